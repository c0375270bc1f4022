package collector

import (
	"os"
	"strings"
	"time"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

const (
	DefaultDBPath        = "planka_events.db"
	DefaultPort          = "5000"
	DefaultListLimit     = 10
	DefaultSendTimeout   = 5 * time.Second
	DefaultMoveEventType = "Card Moved"
)

// DefaultLabels are the WeCom headings for the Planka notification titles.
var DefaultLabels = map[string]string{
	"Card Moved":             "📋 卡片移动",
	"Card Created":           "✨ 卡片创建",
	"New Comment":            "💬 新评论",
	"You Were Added to Card": "👤 被添加到卡片",
}

// StringList accepts either a YAML sequence or a comma-separated scalar:
//
//	boards: [EP, OPS]
//	boards: "EP,OPS"
type StringList []string

func (l *StringList) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	switch value.Kind {
	case yaml.ScalarNode:
		*l = SplitList(value.Value)
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := value.Decode(&items); err != nil {
			return err
		}
		*l = cleanList(items)
		return nil
	default:
		// ignore other kinds
		return nil
	}
}

// SplitList splits a comma-separated value, dropping blanks.
func SplitList(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	return cleanList(strings.Split(csv, ","))
}

func cleanList(items []string) []string {
	items = lo.Map(items, func(s string, _ int) string { return strings.TrimSpace(s) })
	return lo.Uniq(lo.Compact(items))
}

type ForwardFileConfig struct {
	// WeCom group robot URL. Empty disables forwarding.
	Webhook string        `yaml:"webhook"`
	Timeout time.Duration `yaml:"timeout"`

	// Nil means "not set in the file"; an explicit empty list forwards nothing.
	Boards     *StringList `yaml:"boards"`
	EventTypes *StringList `yaml:"event_types"`

	MoveEventType string            `yaml:"move_event_type"`
	Labels        map[string]string `yaml:"labels"`
}

type FileConfig struct {
	DB        string            `yaml:"db"`
	Port      string            `yaml:"port"`
	Debug     bool              `yaml:"debug"`
	ListLimit int               `yaml:"list_limit"`
	Forward   ForwardFileConfig `yaml:"forward"`
}

func LoadConfig(path string) (*FileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ForwardConfig drives the Forwarder. It is built once at startup.
type ForwardConfig struct {
	WebhookURL    string
	Timeout       time.Duration
	Boards        []string
	EventTypes    []string
	MoveEventType string
	// Labels maps an event type to its message heading. Unlisted types use the raw type.
	Labels map[string]string
}

// Config is the merged runtime configuration of one collector process.
type Config struct {
	DBPath    string
	Port      string
	Debug     bool
	ListLimit int
	Forward   ForwardConfig
}

// DefaultConfig forwards "Card Moved" and "Card Created" on board EP once a
// webhook URL is supplied.
func DefaultConfig() Config {
	return Config{
		DBPath:    DefaultDBPath,
		Port:      DefaultPort,
		ListLimit: DefaultListLimit,
		Forward: ForwardConfig{
			Timeout:       DefaultSendTimeout,
			Boards:        []string{"EP"},
			EventTypes:    []string{"Card Moved", "Card Created"},
			MoveEventType: DefaultMoveEventType,
			Labels:        lo.Assign(DefaultLabels),
		},
	}
}

// Apply overlays the values set in the file onto cfg.
func (f *FileConfig) Apply(cfg *Config) {
	if f == nil {
		return
	}
	if strings.TrimSpace(f.DB) != "" {
		cfg.DBPath = strings.TrimSpace(f.DB)
	}
	if strings.TrimSpace(f.Port) != "" {
		cfg.Port = strings.TrimSpace(f.Port)
	}
	if f.Debug {
		cfg.Debug = true
	}
	if f.ListLimit > 0 {
		cfg.ListLimit = f.ListLimit
	}

	fw := f.Forward
	if strings.TrimSpace(fw.Webhook) != "" {
		cfg.Forward.WebhookURL = strings.TrimSpace(fw.Webhook)
	}
	if fw.Timeout > 0 {
		cfg.Forward.Timeout = fw.Timeout
	}
	if fw.Boards != nil {
		cfg.Forward.Boards = []string(*fw.Boards)
	}
	if fw.EventTypes != nil {
		cfg.Forward.EventTypes = []string(*fw.EventTypes)
	}
	if strings.TrimSpace(fw.MoveEventType) != "" {
		cfg.Forward.MoveEventType = strings.TrimSpace(fw.MoveEventType)
	}
	if len(fw.Labels) > 0 {
		cfg.Forward.Labels = lo.Assign(cfg.Forward.Labels, fw.Labels)
	}
}
