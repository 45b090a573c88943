package model

import "time"

// Project 可被关注的项目
type Project struct {
	ID        int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	Name      string    `json:"name" gorm:"type:varchar(128);not null"`
	OwnerID   int64     `json:"owner_id" gorm:"index:idx_project_owner"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Project) TableName() string { return "projects" }

func (p *Project) EntityID() int64 { return p.ID }
