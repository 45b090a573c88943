package model

import "time"

// Post 发帖，发布时作为 "create" 动作的 target 写入时间线
type Post struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	AuthorID  int64     `json:"author_id" gorm:"index:idx_post_author"`
	ProjectID *int64    `json:"project_id,omitempty" gorm:"index:idx_post_project"`
	Payload   string    `json:"payload" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Post) TableName() string { return "posts" }

func (p *Post) EntityID() int64 { return p.ID }
