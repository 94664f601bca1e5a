package app

import (
	"context"
	"fmt"
	"html"
	"net/http"

	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/KaiOuYang/WebAppStart/log"
	"github.com/KaiOuYang/WebAppStart/orm"
	"github.com/KaiOuYang/WebAppStart/rdb"
	"github.com/KaiOuYang/WebAppStart/web"
)

const maskedPasswd = "******"

// Page 分页信息，Index 从 1 开始
type Page struct {
	Index       int  `json:"page_index"`
	Size        int  `json:"page_size"`
	ItemCount   int  `json:"item_count"`
	PageCount   int  `json:"page_count"`
	Offset      int  `json:"offset"`
	Limit       int  `json:"limit"`
	HasNext     bool `json:"has_next"`
	HasPrevious bool `json:"has_previous"`
}

func NewPage(itemCount, index, size int) *Page {
	if size <= 0 {
		size = 10
	}
	p := &Page{Size: size, ItemCount: itemCount}
	p.PageCount = (itemCount + size - 1) / size
	if itemCount == 0 || index < 1 || index > p.PageCount {
		p.Index = 1
		return p
	}
	p.Index = index
	p.Offset = size * (index - 1)
	p.Limit = size
	p.HasNext = p.Index < p.PageCount
	p.HasPrevious = p.Index > 1
	return p
}

// Handlers 示例应用的路由集合，交给 web.App.AddRoutes 注册
type Handlers struct {
	Index        *web.Route
	ListUsers    *web.Route
	RegisterUser *web.Route
	GetUser      *web.Route
	BlogComments *web.Route

	exec   rdb.Executor
	logger log.Logger
}

func NewHandlers(exec rdb.Executor, logger log.Logger) *Handlers {
	h := &Handlers{
		exec:   exec,
		logger: log.OrDefault(logger).WithGroup("app"),
	}
	h.Index = web.Get("/", h.index)
	h.ListUsers = web.Get("/api/users", h.listUsers)
	h.RegisterUser = web.Post("/api/users", h.registerUser)
	h.GetUser = web.Get("/api/users/{id}", h.getUser)
	h.BlogComments = web.Get("/api/blogs/{id}/comments", h.blogComments)
	return h
}

func (h *Handlers) index(ctx context.Context) (any, error) {
	count, err := UserSchema.FindNumber(ctx, h.exec, "count(id)")
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("<!DOCTYPE html>\n<html><head><title>%s</title></head><body><h1>%s</h1><p>%d users</p></body></html>",
		html.EscapeString("WebAppStart"), html.EscapeString("WebAppStart"), count.Int()), nil
}

type listUsersArgs struct {
	Page int `arg:"page,kw,default=1" validate:"gte=1"`
	Size int `arg:"size,kw,default=10" validate:"gte=1,lte=100"`
}

type userPage struct {
	Page  *Page   `json:"page"`
	Users []*User `json:"users"`
}

func (h *Handlers) listUsers(ctx context.Context, args *listUsersArgs) (any, error) {
	num, err := UserSchema.FindNumber(ctx, h.exec, "count(id)")
	if err != nil {
		return nil, err
	}

	page := NewPage(int(num.Int()), args.Page, args.Size)
	result := &userPage{Page: page, Users: []*User{}}
	if page.Limit == 0 {
		return result, nil
	}

	models, err := UserSchema.FindAll(ctx, h.exec,
		orm.OrderBy("`created_at` desc"),
		orm.LimitOffset(page.Offset, page.Limit),
	)
	if err != nil {
		return nil, err
	}
	for _, m := range models {
		u, err := scanUser(m)
		if err != nil {
			return nil, err
		}
		result.Users = append(result.Users, u)
	}
	return result, nil
}

type registerArgs struct {
	Email  string `arg:"email,kw" validate:"required,email"`
	Name   string `arg:"name,kw" validate:"required,max=50"`
	Passwd string `arg:"passwd,kw" validate:"required,min=6"`
}

func (h *Handlers) registerUser(ctx context.Context, args *registerArgs) (any, error) {
	exists, err := UserSchema.FindAll(ctx, h.exec, orm.Where("`email`=?", args.Email), orm.Limit(1))
	if err != nil {
		return nil, err
	}
	if len(exists) > 0 {
		return nil, web.NewAPIError(http.StatusBadRequest, "register:failed", "Email is already in use.")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(args.Passwd), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Wrap(err, "bcrypt.GenerateFromPassword failed")
	}

	m, err := UserSchema.NewFromStruct(&User{
		Email:  args.Email,
		Name:   args.Name,
		Passwd: string(hash),
		Image:  "about:blank",
	})
	if err != nil {
		return nil, err
	}
	if err := m.Save(ctx, h.exec); err != nil {
		return nil, err
	}

	u, err := scanUser(m)
	if err != nil {
		return nil, err
	}
	h.logger.InfoContext(ctx, "user registered", "id", u.ID, "email", u.Email)
	return u, nil
}

type idArgs struct {
	ID string `arg:"id"`
}

func (h *Handlers) getUser(ctx context.Context, args *idArgs) (any, error) {
	m, err := UserSchema.Find(ctx, h.exec, args.ID)
	if errors.Is(err, orm.ErrRecordNotFound) {
		return nil, web.NewAPIError(http.StatusNotFound, "notfound", "user "+args.ID)
	}
	if err != nil {
		return nil, err
	}
	return scanUser(m)
}

func (h *Handlers) blogComments(ctx context.Context, args *idArgs) (any, error) {
	if _, err := BlogSchema.Find(ctx, h.exec, args.ID); err != nil {
		if errors.Is(err, orm.ErrRecordNotFound) {
			return nil, web.NewAPIError(http.StatusNotFound, "notfound", "blog "+args.ID)
		}
		return nil, err
	}

	models, err := CommentSchema.FindAll(ctx, h.exec,
		orm.Where("`blog_id`=?", args.ID),
		orm.OrderBy("`created_at` desc"),
	)
	if err != nil {
		return nil, err
	}
	comments := make([]*Comment, 0, len(models))
	for _, m := range models {
		var c Comment
		if err := m.Scan(&c); err != nil {
			return nil, err
		}
		comments = append(comments, &c)
	}
	return map[string]any{"comments": comments}, nil
}

// scanUser 读出用户并隐藏密码
func scanUser(m *orm.Model) (*User, error) {
	var u User
	if err := m.Scan(&u); err != nil {
		return nil, err
	}
	u.Passwd = maskedPasswd
	return &u, nil
}

// CheckPasswd 校验明文密码与保存的哈希是否一致
func CheckPasswd(hash string, passwd string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(passwd)) == nil
}
