package config

import (
	"fmt"
	"net"
	neturl "net/url"
	"strconv"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
)

// DSNValue builds the MySQL DSN, preferring an explicit dsn string.
func (c DatabaseConfig) DSNValue() string {
	if v := strings.TrimSpace(c.DSN); v != "" {
		return v
	}

	mc := mysqldriver.NewConfig()
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(orDefault(c.Host, defaultDBHost), strconv.Itoa(orDefaultInt(c.Port, defaultDBPort)))
	mc.User = orDefault(c.User, defaultDBUser)
	mc.Passwd = orDefault(c.Password, defaultDBPassword)
	mc.DBName = orDefault(c.Name, defaultDBName)
	mc.ParseTime = true
	if loc, err := time.LoadLocation(orDefault(c.Loc, defaultDBLoc)); err == nil {
		mc.Loc = loc
	}
	mc.Params = map[string]string{
		"charset": orDefault(c.Charset, defaultDBCharset),
	}
	return mc.FormatDSN()
}

// URLValue builds the redis connection URL, preferring an explicit url. An
// empty result means "no redis configured" (dev falls back to the in-memory
// store).
func (c RedisConfig) URLValue() string {
	if v := strings.TrimSpace(c.URL); v != "" {
		return v
	}
	host := strings.TrimSpace(c.Host)
	if host == "" {
		return ""
	}

	u := neturl.URL{
		Scheme: "redis",
		Host:   net.JoinHostPort(host, strconv.Itoa(orDefaultInt(c.Port, defaultRedisPort))),
		Path:   fmt.Sprintf("/%d", c.DB),
	}
	if c.Username != "" || c.Password != "" {
		u.User = neturl.UserPassword(c.Username, c.Password)
	}
	return u.String()
}

func orDefault(v, def string) string {
	if s := strings.TrimSpace(v); s != "" {
		return s
	}
	return def
}

func orDefaultInt(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}
