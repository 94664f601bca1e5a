package app

import (
	"sync"
	"time"

	"github.com/KaiOuYang/WebAppStart/orm"
	"github.com/KaiOuYang/WebAppStart/uid"
)

var registerOnce sync.Once

// registerFactories 注册 next_id 和 now，需早于包级 Schema 的构建
func registerFactories() {
	registerOnce.Do(func() {
		orm.RegisterFactory("next_id", func() orm.Value {
			return orm.String(uid.NextID())
		})
		orm.RegisterFactory("now", func() orm.Value {
			return orm.Float(float64(time.Now().UnixNano()) / 1e9)
		})
	})
}

func newSchema(v any) *orm.Schema {
	registerFactories()
	return orm.MustSchema(orm.NewSchemaFromStruct(v, nil))
}

type User struct {
	ID        string  `orm:"id,pk,ddl=varchar(50),factory=next_id" json:"id"`
	Email     string  `orm:"email,ddl=varchar(50)" json:"email"`
	Passwd    string  `orm:"passwd,ddl=varchar(100)" json:"passwd"`
	Admin     bool    `orm:"admin" json:"admin"`
	Name      string  `orm:"name,ddl=varchar(50)" json:"name"`
	Image     string  `orm:"image,ddl=varchar(500)" json:"image"`
	CreatedAt float64 `orm:"created_at,factory=now" json:"created_at"`
}

func (User) Table() string { return "users" }

type Blog struct {
	ID        string  `orm:"id,pk,ddl=varchar(50),factory=next_id" json:"id"`
	UserID    string  `orm:"user_id,ddl=varchar(50)" json:"user_id"`
	UserName  string  `orm:"user_name,ddl=varchar(50)" json:"user_name"`
	UserImage string  `orm:"user_image,ddl=varchar(500)" json:"user_image"`
	Name      string  `orm:"name,ddl=varchar(50)" json:"name"`
	Summary   string  `orm:"summary,ddl=varchar(200)" json:"summary"`
	Content   string  `orm:"content,text" json:"content"`
	CreatedAt float64 `orm:"created_at,factory=now" json:"created_at"`
}

func (Blog) Table() string { return "blogs" }

type Comment struct {
	ID        string  `orm:"id,pk,ddl=varchar(50),factory=next_id" json:"id"`
	BlogID    string  `orm:"blog_id,ddl=varchar(50)" json:"blog_id"`
	UserID    string  `orm:"user_id,ddl=varchar(50)" json:"user_id"`
	UserName  string  `orm:"user_name,ddl=varchar(50)" json:"user_name"`
	UserImage string  `orm:"user_image,ddl=varchar(500)" json:"user_image"`
	Content   string  `orm:"content,text" json:"content"`
	CreatedAt float64 `orm:"created_at,factory=now" json:"created_at"`
}

func (Comment) Table() string { return "comments" }

var (
	UserSchema    = newSchema(User{})
	BlogSchema    = newSchema(Blog{})
	CommentSchema = newSchema(Comment{})
)

// Schemas 返回全部实体，按建表顺序
func Schemas() []*orm.Schema {
	return []*orm.Schema{UserSchema, BlogSchema, CommentSchema}
}
