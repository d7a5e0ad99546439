package db

import (
	"log"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/fretwise/fretwise/internal/assist"
	"github.com/fretwise/fretwise/internal/models"
	"github.com/fretwise/fretwise/internal/song"
)

func Connect(dsn string) *gorm.DB {
	gdb, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("db: open failed: %v", err)
	}
	if err := Migrate(gdb); err != nil {
		log.Fatalf("db: migrate failed: %v", err)
	}
	return gdb
}

func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&models.User{},
		&song.Song{},
		&song.Section{},
		&song.Chord{},
		&song.PracticeSession{},
		&assist.Conversation{},
		&assist.Turn{},
		&assist.AnalysisJob{},
	)
}
