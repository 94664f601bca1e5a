package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"

	"github.com/KaiOuYang/WebAppStart/log"
	"github.com/KaiOuYang/WebAppStart/rdb"
	"github.com/KaiOuYang/WebAppStart/web"
)

var dbSeq int

func newTestPool() *rdb.Pool {
	dbSeq++
	pool, err := rdb.NewPoolWithOptions(context.Background(), &rdb.Options{
		Driver:   "sqlite3",
		DSN:      fmt.Sprintf("file:app_test_%d?mode=memory&cache=shared", dbSeq),
		MaxConns: 1,
		MaxIdle:  1,
	}, rdb.WithLogger(log.NewNop()))
	So(err, ShouldBeNil)
	for _, s := range Schemas() {
		So(s.Migrate(context.Background(), pool), ShouldBeNil)
	}
	return pool
}

func newTestApp(pool *rdb.Pool) *web.App {
	a, err := web.NewAppWithOptions(&web.AppOptions{Logger: log.NewNop()})
	So(err, ShouldBeNil)
	So(a.AddRoutes(NewHandlers(pool, log.NewNop())), ShouldBeNil)
	return a
}

func do(a *web.App, method string, target string, body string) (*httptest.ResponseRecorder, map[string]any) {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	a.ServeHTTP(w, r)

	var m map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		So(json.Unmarshal(w.Body.Bytes(), &m), ShouldBeNil)
	}
	return w, m
}

func TestHandlers(t *testing.T) {
	Convey("测试示例应用接口", t, func() {
		pool := newTestPool()
		Reset(func() {
			_ = pool.Close()
		})
		a := newTestApp(pool)
		ctx := context.Background()

		w, user := do(a, http.MethodPost, "/api/users", `{"email": "test@example.com", "name": "Test", "passwd": "1234567890"}`)
		So(w.Code, ShouldEqual, http.StatusOK)
		So(user["email"], ShouldEqual, "test@example.com")
		So(user["passwd"], ShouldEqual, maskedPasswd)
		So(user["image"], ShouldEqual, "about:blank")
		So(user["admin"], ShouldEqual, false)
		id := user["id"].(string)
		So(id, ShouldNotBeEmpty)

		Convey("保存的是密码哈希", func() {
			m, err := UserSchema.Find(ctx, pool, id)
			So(err, ShouldBeNil)
			v, err := m.Get("passwd")
			So(err, ShouldBeNil)
			So(v.Str(), ShouldNotEqual, "1234567890")
			So(CheckPasswd(v.Str(), "1234567890"), ShouldBeTrue)
			So(CheckPasswd(v.Str(), "wrong"), ShouldBeFalse)
		})

		Convey("重复邮箱", func() {
			w, body := do(a, http.MethodPost, "/api/users", `{"email": "test@example.com", "name": "Other", "passwd": "abcdefg"}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(body["error"], ShouldEqual, "register:failed")
		})

		Convey("参数校验失败", func() {
			w, body := do(a, http.MethodPost, "/api/users", `{"email": "not-an-email", "name": "Other", "passwd": "abcdefg"}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(body["message"], ShouldEqual, "Invalid argument: email")

			w, body = do(a, http.MethodPost, "/api/users", `{"email": "a@example.com", "name": "Other"}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(body["message"], ShouldEqual, "Missing argument: passwd")
		})

		Convey("按 id 查询用户", func() {
			w, body := do(a, http.MethodGet, "/api/users/"+id, "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(body["name"], ShouldEqual, "Test")
			So(body["passwd"], ShouldEqual, maskedPasswd)

			w, body = do(a, http.MethodGet, "/api/users/missing", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
			So(body["error"], ShouldEqual, "notfound")
		})

		Convey("分页列出用户", func() {
			w, body := do(a, http.MethodGet, "/api/users?page=1", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			page := body["page"].(map[string]any)
			So(page["item_count"], ShouldEqual, float64(1))
			So(page["page_index"], ShouldEqual, float64(1))
			users := body["users"].([]any)
			So(users, ShouldHaveLength, 1)
			So(users[0].(map[string]any)["passwd"], ShouldEqual, maskedPasswd)

			w, body = do(a, http.MethodGet, "/api/users?page=5", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(body["users"], ShouldBeEmpty)

			w, _ = do(a, http.MethodGet, "/api/users?page=0", "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("首页", func() {
			w, _ := do(a, http.MethodGet, "/", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Header().Get("Content-Type"), ShouldStartWith, "text/html")
			So(w.Body.String(), ShouldContainSubstring, "1 users")
		})

		Convey("博客评论按时间倒序", func() {
			blog, err := BlogSchema.NewFromStruct(&Blog{UserID: id, UserName: "Test", Name: "hello", Content: "world"})
			So(err, ShouldBeNil)
			So(blog.Save(ctx, pool), ShouldBeNil)
			blogID, err := blog.Get("id")
			So(err, ShouldBeNil)

			for i, content := range []string{"first", "second"} {
				c, err := CommentSchema.NewFromStruct(&Comment{
					BlogID:    blogID.Str(),
					UserID:    id,
					Content:   content,
					CreatedAt: float64(1700000000 + i),
				})
				So(err, ShouldBeNil)
				So(c.Save(ctx, pool), ShouldBeNil)
			}

			w, body := do(a, http.MethodGet, "/api/blogs/"+blogID.Str()+"/comments", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			comments := body["comments"].([]any)
			So(comments, ShouldHaveLength, 2)
			So(comments[0].(map[string]any)["content"], ShouldEqual, "second")
			So(comments[1].(map[string]any)["content"], ShouldEqual, "first")

			w, body = do(a, http.MethodGet, "/api/blogs/missing/comments", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
			So(body["error"], ShouldEqual, "notfound")
		})
	})
}

func TestSchemas(t *testing.T) {
	assert.Equal(t, "users", UserSchema.Table())
	assert.Equal(t, "blogs", BlogSchema.Table())
	assert.Equal(t, "comments", CommentSchema.Table())
	assert.Equal(t, "id", UserSchema.PrimaryKey().Attr())
	assert.Contains(t, UserSchema.CreateTableSQL(), "`id` varchar(50) not null")
	assert.Contains(t, CommentSchema.CreateTableSQL(), "`content` text")

	m, err := UserSchema.New(nil)
	assert.NoError(t, err)
	v, err := m.Get("id")
	assert.NoError(t, err)
	assert.Len(t, v.Str(), 50)
	v, err = m.Get("created_at")
	assert.NoError(t, err)
	assert.Greater(t, v.Float(), float64(1700000000))
}

func TestNewPage(t *testing.T) {
	tests := []struct {
		name                     string
		count, index, size       int
		wantIndex, wantOffset    int
		wantLimit, wantPageCount int
		wantNext, wantPrevious   bool
	}{
		{name: "空", count: 0, index: 1, size: 10, wantIndex: 1},
		{name: "第一页", count: 91, index: 1, size: 10, wantIndex: 1, wantLimit: 10, wantPageCount: 10, wantNext: true},
		{name: "最后一页", count: 91, index: 10, size: 10, wantIndex: 10, wantOffset: 90, wantLimit: 10, wantPageCount: 10, wantPrevious: true},
		{name: "超出范围", count: 91, index: 11, size: 10, wantIndex: 1, wantPageCount: 10},
		{name: "默认每页数量", count: 5, index: 1, size: 0, wantIndex: 1, wantLimit: 10, wantPageCount: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPage(tt.count, tt.index, tt.size)
			assert.Equal(t, tt.wantIndex, p.Index)
			assert.Equal(t, tt.wantOffset, p.Offset)
			assert.Equal(t, tt.wantLimit, p.Limit)
			assert.Equal(t, tt.wantPageCount, p.PageCount)
			assert.Equal(t, tt.wantNext, p.HasNext)
			assert.Equal(t, tt.wantPrevious, p.HasPrevious)
		})
	}
}
