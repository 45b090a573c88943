package model

// 实体类型，写入 uid 记录
const (
	KindUser    = "user"
	KindProject = "project"
	KindPost    = "post"
)

// 动态的动作类型
const (
	VerbCreate  = "create"
	VerbLike    = "like"
	VerbComment = "comment"
	VerbFollow  = "follow"
)

// Models 返回需要 AutoMigrate 的全部表
func Models() []any {
	return []any{&User{}, &Project{}, &Post{}}
}
