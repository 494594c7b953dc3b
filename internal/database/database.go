package database

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/opsdeck/termbridge/internal/config"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func Init() error {
	dbPath := config.Cfg.DatabasePath
	dbDir := filepath.Dir(dbPath)
	if dbDir != "" {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}
	}

	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}

	if err := DB.AutoMigrate(&SSHGroup{}, &SSHServer{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	if _, err := EnsureDefaultGroup(); err != nil {
		return fmt.Errorf("seed default group: %w", err)
	}

	return nil
}

func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// EnsureDefaultGroup returns the default group, creating it if missing.
func EnsureDefaultGroup() (*SSHGroup, error) {
	var g SSHGroup
	err := DB.Where("is_default = ?", true).First(&g).Error
	if err == nil {
		return &g, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}
	g = SSHGroup{Name: "default", IsDefault: true}
	if err := DB.Create(&g).Error; err != nil {
		return nil, err
	}
	return &g, nil
}

// Group helpers

func ListGroups() ([]SSHGroup, error) {
	var groups []SSHGroup
	if err := DB.Order("id").Find(&groups).Error; err != nil {
		return nil, err
	}
	return groups, nil
}

func CreateGroup(g *SSHGroup) error {
	return DB.Create(g).Error
}

// DeleteGroup removes a non-default group and reassigns its servers to the
// default group.
func DeleteGroup(id uint) error {
	var g SSHGroup
	if err := DB.First(&g, id).Error; err != nil {
		return err
	}
	if g.IsDefault {
		return fmt.Errorf("cannot delete the default group")
	}
	def, err := EnsureDefaultGroup()
	if err != nil {
		return err
	}
	if err := DB.Model(&SSHServer{}).Where("group_id = ?", id).Update("group_id", def.ID).Error; err != nil {
		return err
	}
	return DB.Delete(&SSHGroup{}, id).Error
}

// Server helpers

func ListServers(groupID *uint) ([]SSHServer, error) {
	var servers []SSHServer
	q := DB.Order("id")
	if groupID != nil {
		q = q.Where("group_id = ?", *groupID)
	}
	if err := q.Find(&servers).Error; err != nil {
		return nil, err
	}
	return servers, nil
}

func GetServer(id uint) (*SSHServer, error) {
	var s SSHServer
	if err := DB.First(&s, id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateServer stores a server, assigning the default group when none is
// given.
func CreateServer(s *SSHServer) error {
	if s.GroupID == nil {
		def, err := EnsureDefaultGroup()
		if err != nil {
			return err
		}
		s.GroupID = &def.ID
	}
	return DB.Create(s).Error
}

func UpdateServer(s *SSHServer) error {
	return DB.Save(s).Error
}

func DeleteServer(id uint) error {
	return DB.Delete(&SSHServer{}, id).Error
}
