package remote

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
)

const defaultMySQLPort = 3306

// mysqlDSN builds the driver DSN and a credential-free description of the
// target. Session time is pinned to UTC so CURRENT_TIMESTAMP yields UTC and
// DATETIME values scan back without a zone shift.
func mysqlDSN(cfg Config) (dsn, target string, err error) {
	var mc *mysql.Config
	if cfg.DSN != "" {
		mc, err = mysql.ParseDSN(cfg.DSN)
		if err != nil {
			return "", "", fmt.Errorf("invalid mysql dsn: %w", err)
		}
	} else {
		if cfg.Host == "" {
			return "", "", fmt.Errorf("mysql remote requires a host")
		}
		if cfg.Database == "" {
			return "", "", fmt.Errorf("mysql remote requires a database name")
		}
		port := cfg.Port
		if port == 0 {
			port = defaultMySQLPort
		}
		mc = mysql.NewConfig()
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(port))
		mc.User = cfg.User
		mc.Passwd = cfg.Password
		mc.DBName = cfg.Database
	}

	mc.ParseTime = true
	mc.Loc = time.UTC
	if mc.Params == nil {
		mc.Params = map[string]string{}
	}
	mc.Params["time_zone"] = "'+00:00'"
	if cfg.ConnectTimeout > 0 {
		mc.Timeout = cfg.ConnectTimeout
	}
	if cfg.Timeout > 0 {
		mc.ReadTimeout = cfg.Timeout
		mc.WriteTimeout = cfg.Timeout
	}

	target = fmt.Sprintf("%s@%s/%s", mc.User, mc.Addr, mc.DBName)
	return mc.FormatDSN(), target, nil
}
