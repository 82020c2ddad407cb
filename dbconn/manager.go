package dbconn

import (
	"database/sql"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"zh.xyz/dv/hubsync/config"
)

var connectionPool = sync.Map{}

func key(cfg config.WarehouseConfig) string {
	return fmt.Sprintf("%s@%s:%s/%s", cfg.User, cfg.Host, cfg.Port, cfg.DBName)
}

// DSN 生成目标 MySQL 的 DSN，时间统一按 UTC 读写
func DSN(cfg config.WarehouseConfig) string {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, cfg.Port)
	mc.DBName = cfg.DBName
	mc.ParseTime = true
	mc.Loc = time.UTC
	mc.Params = map[string]string{"charset": "utf8mb4"}
	return mc.FormatDSN()
}

// GetRawConnection 获取目标库连接（连接池复用）
func GetRawConnection(cfg config.WarehouseConfig) (*sql.DB, error) {
	k := key(cfg)
	if conn, ok := connectionPool.Load(k); ok {
		return conn.(*sql.DB), nil
	}

	db, err := sql.Open("mysql", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("打开目标数据库失败: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	// 并发获取时只保留一个
	actual, loaded := connectionPool.LoadOrStore(k, db)
	if loaded {
		db.Close()
	}
	return actual.(*sql.DB), nil
}

// CloseConnection 关闭目标库连接
func CloseConnection(cfg config.WarehouseConfig) {
	if conn, ok := connectionPool.LoadAndDelete(key(cfg)); ok {
		conn.(*sql.DB).Close()
	}
}

// CloseAll 关闭全部连接
func CloseAll() {
	connectionPool.Range(func(k, v any) bool {
		connectionPool.Delete(k)
		v.(*sql.DB).Close()
		return true
	})
}
