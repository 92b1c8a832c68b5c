package models

import (
	"log"

	"bitbucket.org/mmdatafocus/remit_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Business{}, &User{},
		&Document{},
		&Remittance{}, &RemittanceLine{},
		&AuditLogEntry{},
		&IdempotencyKey{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
