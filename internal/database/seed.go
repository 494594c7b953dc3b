package database

import (
	"fmt"
	"log"
	"os"

	"github.com/opsdeck/termbridge/internal/logutil"
	"gopkg.in/yaml.v3"
)

// seedFile is the YAML shape of a hosts seed file:
//
//	servers:
//	  - alias: build box
//	    hostname: build.internal
//	    port: 22
//	    username: ops
//	    group: infra
type seedFile struct {
	Servers []seedServer `yaml:"servers"`
}

type seedServer struct {
	Alias    string `yaml:"alias"`
	Hostname string `yaml:"hostname"`
	Port     uint16 `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Group    string `yaml:"group"`
	Remark   string `yaml:"remark"`
}

// SeedServersFromFile imports servers from a YAML file into the inventory.
// Existing entries with the same alias and hostname are left untouched, so
// repeated startups are idempotent. Missing groups are created on the fly.
func SeedServersFromFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read hosts file: %w", err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return fmt.Errorf("parse hosts file: %w", err)
	}

	imported := 0
	for _, sv := range seed.Servers {
		if sv.Hostname == "" || sv.Username == "" {
			log.Printf("[db] skipping seed entry %q: hostname and username are required",
				logutil.SanitizeForLog(sv.Alias))
			continue
		}
		if sv.Port == 0 {
			sv.Port = 22
		}

		var count int64
		DB.Model(&SSHServer{}).Where("alias = ? AND hostname = ?", sv.Alias, sv.Hostname).Count(&count)
		if count > 0 {
			continue
		}

		var groupID *uint
		if sv.Group != "" {
			var g SSHGroup
			if err := DB.Where("name = ?", sv.Group).First(&g).Error; err != nil {
				g = SSHGroup{Name: sv.Group}
				if err := DB.Create(&g).Error; err != nil {
					return fmt.Errorf("create group %q: %w", sv.Group, err)
				}
			}
			groupID = &g.ID
		}

		server := SSHServer{
			Alias:    sv.Alias,
			Hostname: sv.Hostname,
			Port:     sv.Port,
			Username: sv.Username,
			Password: sv.Password,
			GroupID:  groupID,
			Remark:   sv.Remark,
		}
		if err := CreateServer(&server); err != nil {
			return fmt.Errorf("seed server %q: %w", sv.Alias, err)
		}
		imported++
	}

	if imported > 0 {
		log.Printf("[db] seeded %d servers from %s", imported, path)
	}
	return nil
}
