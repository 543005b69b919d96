package model

// Platform 游戏平台, 只读
type Platform struct {
	ID   string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name string `gorm:"uniqueIndex;not null;type:varchar(100)" json:"name"`
}

func (Platform) TableName() string {
	return "platforms"
}

// Game 游戏, 只读
type Game struct {
	ID         string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	PlatformID string `gorm:"index;not null;type:varchar(64)" json:"platform_id"`
	Title      string `gorm:"not null;type:varchar(200)" json:"title"`
}

func (Game) TableName() string {
	return "games"
}
