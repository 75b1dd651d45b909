package persist

import (
	"context"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormStore persists the snapshot in postgres. Save rewrites each table in
// one transaction; the debounce window keeps that cheap enough.
type GormStore struct {
	db *gorm.DB
}

func OpenGorm(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&AccountRow{}, &SessionRow{}, &RankingRow{}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func (g *GormStore) Load(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}
	db := g.db.WithContext(ctx)
	if err := db.Find(&snap.Accounts).Error; err != nil {
		return nil, err
	}
	if err := db.Find(&snap.Sessions).Error; err != nil {
		return nil, err
	}
	if err := db.Find(&snap.Rankings).Error; err != nil {
		return nil, err
	}
	return snap, nil
}

func (g *GormStore) Save(ctx context.Context, snap *Snapshot) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, del := range []any{&AccountRow{}, &SessionRow{}, &RankingRow{}} {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(del).Error; err != nil {
				return err
			}
		}
		if len(snap.Accounts) > 0 {
			if err := tx.CreateInBatches(snap.Accounts, 200).Error; err != nil {
				return err
			}
		}
		if len(snap.Sessions) > 0 {
			if err := tx.CreateInBatches(snap.Sessions, 200).Error; err != nil {
				return err
			}
		}
		if len(snap.Rankings) > 0 {
			if err := tx.CreateInBatches(snap.Rankings, 200).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (g *GormStore) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
