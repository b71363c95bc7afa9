package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/xuri/excelize/v2"
)

// AppConfig 应用配置
type AppConfig struct {
	Server   ServerConfig   `toml:"server"`
	Data     DataConfig     `toml:"data"`
	Mail     MailConfig     `toml:"mail"`
	Protocol ProtocolConfig `toml:"protocol"`
	Render   RenderConfig   `toml:"render"`
	Poll     PollConfig     `toml:"poll"`
	Redis    RedisConfig    `toml:"redis"`

	baseDir string
}

// ServerConfig 管理接口配置
type ServerConfig struct {
	Port    int  `toml:"port"`
	DevMode bool `toml:"dev_mode"`
}

// DataConfig 数据配置
type DataConfig struct {
	DataDir      string `toml:"data_dir"`
	DBFile       string `toml:"db_file"`
	TemplatePath string `toml:"template_path"` // 首次启动的种子模板
	SynonymsPath string `toml:"synonyms_path"`
}

// MailConfig 邮件配置；账号与收件人名单通常来自环境变量
type MailConfig struct {
	SMTPServer        string   `toml:"smtp_server"`
	SMTPPort          string   `toml:"smtp_port"`
	Username          string   `toml:"username"`
	Password          string   `toml:"-"`
	From              string   `toml:"from"`
	FromName          string   `toml:"from_name"`
	AuthorizedEmails  []string `toml:"authorized_emails"`
	AdminEmails       []string `toml:"admin_emails"`
	RatePerMinute     int      `toml:"rate_per_minute"`
	ReplyUnauthorized bool     `toml:"reply_unauthorized"`
}

// ProtocolConfig 模板更新协议配置
type ProtocolConfig struct {
	PendingTTL   Duration `toml:"pending_ttl"`
	StateBackend string   `toml:"state_backend"` // sqlite | memory | redis
}

// RenderConfig 模板版式与导出配置
type RenderConfig struct {
	Sheet          string  `toml:"sheet"`
	HeaderRow      int     `toml:"header_row"`
	DataRow        int     `toml:"data_row"`
	FirstColumn    string  `toml:"first_column"`
	BaseYear       int     `toml:"base_year"` // 0 表示当前年份
	GroupByManager bool    `toml:"group_by_manager"`
	BarColor       string  `toml:"bar_color"`
	RowHeight      float64 `toml:"row_height"`
	MAGShare       float64 `toml:"mag_share"`
	OutputPrefix   string  `toml:"output_prefix"`
}

// PollConfig 收件轮询配置
type PollConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval Duration `toml:"interval"`
}

// RedisConfig Redis 状态存储配置
type RedisConfig struct {
	URL    string `toml:"url"`
	Prefix string `toml:"prefix"`
}

// Duration 支持 "5s"、"24h" 写法的时长
type Duration struct {
	time.Duration
}

// UnmarshalText 解析时长字符串
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText 输出时长字符串
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultConfig 默认配置
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:    20261,
			DevMode: false,
		},
		Data: DataConfig{
			DataDir:      "data",
			DBFile:       "magpipeline.db",
			SynonymsPath: "synonyms.yaml",
		},
		Mail: MailConfig{
			SMTPServer:    "smtp.gmail.com",
			SMTPPort:      "587",
			FromName:      "MAG Pipeline Bot",
			RatePerMinute: 30,
		},
		Protocol: ProtocolConfig{
			PendingTTL:   Duration{24 * time.Hour},
			StateBackend: "sqlite",
		},
		Render: RenderConfig{
			Sheet:        "Pipeline",
			HeaderRow:    4,
			DataRow:      5,
			FirstColumn:  "B",
			RowHeight:    30,
			MAGShare:     1.0,
			OutputPrefix: "Pipeline_GanttChart",
		},
		Poll: PollConfig{
			Enabled:  true,
			Interval: Duration{5 * time.Second},
		},
		Redis: RedisConfig{
			Prefix: "magpipeline:protocol:",
		},
		baseDir: ".",
	}
}

// GetExeDir 获取可执行文件所在目录
func GetExeDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Dir(exe), nil
}

// LoadConfig 从可执行文件同目录的 config.toml 与 .env 加载配置
func LoadConfig() (*AppConfig, error) {
	exeDir, err := GetExeDir()
	if err != nil {
		// 无法获取可执行文件目录，使用当前目录
		exeDir = "."
	}
	return LoadFile(filepath.Join(exeDir, "config.toml"))
}

// LoadFile 加载指定配置文件；文件不存在时使用默认配置。
// 同目录的 .env 先载入环境变量，已存在的环境变量不会被覆盖。
func LoadFile(path string) (*AppConfig, error) {
	config := DefaultConfig()
	config.baseDir = filepath.Dir(path)

	if err := godotenv.Load(filepath.Join(config.baseDir, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	config.applyEnv()
	return config, nil
}

// applyEnv 环境变量覆盖
func (c *AppConfig) applyEnv() {
	c.Mail.Username = getEnv("EMAIL_USER", c.Mail.Username)
	c.Mail.Password = getEnv("EMAIL_PASS", c.Mail.Password)
	c.Mail.SMTPServer = getEnv("SMTP_SERVER", c.Mail.SMTPServer)
	c.Mail.SMTPPort = getEnv("SMTP_PORT", c.Mail.SMTPPort)
	if c.Mail.From == "" {
		c.Mail.From = c.Mail.Username
	}
	if v := getEnvList("AUTHORIZED_EMAILS"); len(v) > 0 {
		c.Mail.AuthorizedEmails = v
	}
	if v := getEnvList("ADMIN_EMAILS"); len(v) > 0 {
		c.Mail.AdminEmails = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
		if c.Protocol.StateBackend == "" || c.Protocol.StateBackend == "sqlite" {
			c.Protocol.StateBackend = "redis"
		}
	}
	c.Data.DataDir = getEnv("MAGPIPELINE_DATA_DIR", c.Data.DataDir)
	c.Data.TemplatePath = getEnv("MAGPIPELINE_TEMPLATE_PATH", c.Data.TemplatePath)
}

// Validate 校验配置
func (c *AppConfig) Validate() error {
	var problems []string
	if len(c.Mail.AuthorizedEmails) == 0 {
		problems = append(problems, "at least one authorized email is required (AUTHORIZED_EMAILS)")
	}
	if strings.TrimSpace(c.Data.DataDir) == "" {
		problems = append(problems, "data.data_dir is empty")
	}
	if c.Render.HeaderRow < 1 {
		problems = append(problems, "render.header_row must be >= 1")
	}
	if c.Render.DataRow <= c.Render.HeaderRow {
		problems = append(problems, "render.data_row must be below render.header_row")
	}
	if _, err := c.FirstColumnIndex(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Render.MAGShare < 0 {
		problems = append(problems, "render.mag_share must not be negative")
	}
	switch c.Protocol.StateBackend {
	case "sqlite", "memory":
	case "redis":
		if c.Redis.URL == "" {
			problems = append(problems, "redis.url is required for the redis state backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown protocol.state_backend %q", c.Protocol.StateBackend))
	}
	if c.Poll.Enabled && c.Poll.Interval.Duration <= 0 {
		problems = append(problems, "poll.interval must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// FirstColumnIndex 首列字母转列号（B -> 2）
func (c *AppConfig) FirstColumnIndex() (int, error) {
	col := strings.TrimSpace(c.Render.FirstColumn)
	if col == "" {
		return 1, nil
	}
	n, err := excelize.ColumnNameToNumber(col)
	if err != nil {
		return 0, fmt.Errorf("render.first_column %q: %w", col, err)
	}
	return n, nil
}

// SaveConfig 保存配置到 config.toml（密码不落盘）
func SaveConfig(config *AppConfig, path string) error {
	data, err := toml.Marshal(config)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// DataSubdirs 数据目录下的子目录
var DataSubdirs = []string{"inputs", "outputs", "templates", "backups", "inbox", "outbox"}

// EnsureDataDir 确保数据目录存在，相对路径基于配置文件所在目录
func EnsureDataDir(config *AppConfig) (string, error) {
	dataDir := config.DataDir()
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", err
	}

	// 创建子目录
	for _, subdir := range DataSubdirs {
		path := filepath.Join(dataDir, subdir)
		if err := os.MkdirAll(path, 0755); err != nil {
			return "", err
		}
	}

	return dataDir, nil
}

// DataDir 数据目录绝对或相对于配置文件的路径
func (c *AppConfig) DataDir() string {
	return c.resolve(c.Data.DataDir)
}

// GetDataPath 获取数据文件路径
func (c *AppConfig) GetDataPath(subdir, filename string) string {
	return filepath.Join(c.DataDir(), subdir, filename)
}

// ResolvePath 配置中的相对路径基于配置文件所在目录
func (c *AppConfig) ResolvePath(p string) string {
	if p == "" {
		return ""
	}
	return c.resolve(p)
}

func (c *AppConfig) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	base := c.baseDir
	if base == "" {
		base = "."
	}
	return filepath.Join(base, p)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
