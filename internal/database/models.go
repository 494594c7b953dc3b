package database

import "time"

// SSHGroup organizes saved servers in the inventory. Exactly one group is
// marked as the default; servers with no explicit group land there.
type SSHGroup struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	IsDefault bool      `gorm:"not null;default:false" json:"is_default"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// SSHServer is one saved shell target. The relay itself never reads these
// rows; credentials for a live session always arrive in the connect frame.
type SSHServer struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Alias     string    `gorm:"not null" json:"alias"`
	Hostname  string    `gorm:"not null" json:"hostname"`
	Port      uint16    `gorm:"not null;default:22" json:"port"`
	Username  string    `gorm:"not null" json:"username"`
	Password  string    `json:"-"`
	GroupID   *uint     `json:"group_id"`
	Remark    string    `json:"remark"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
