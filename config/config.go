// config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"leaseexit/models"
)

var (
	Port          string
	MongoURI      string
	MongoDatabase string
	JWTKey        []byte
	JWTExpiration time.Duration

	Environment    string
	LogLevel       string
	ServiceVersion string
	CORSOrigins    []string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	FromEmail    string
	NATSURL      string
	NATSSubject  string

	WorkflowPolicyFile string
	FormTemplatesDir   string

	NotifyMaxRetries      int
	NotifyRetryBackoff    time.Duration
	NotifyMaxBackoff      time.Duration
	NotifyDeliveryTimeout time.Duration
	NotifyWorkers         int
	SweepInterval         time.Duration
	ApprovalReminderAge   time.Duration

	// StakeholderEmails is the fallback address book used when no active
	// user holds a role.
	StakeholderEmails map[models.Role][]string
)

var defaults = map[string]interface{}{
	"port":                    "8080",
	"mongo_uri":               "mongodb://localhost:27017",
	"mongo_database":          "lease_exit",
	"jwt_secret":              "secret",
	"jwt_expire":              "24h",
	"app_env":                 "production",
	"log_level":               "info",
	"service_version":         "dev",
	"cors_allowed_origins":    "*",
	"smtp_host":               "",
	"smtp_port":               587,
	"smtp_username":           "",
	"smtp_password":           "",
	"from_email":              "lease-exit@localhost",
	"nats_url":                "",
	"nats_subject":            "notifications.lease_exit",
	"workflow_policy_file":    "",
	"form_templates_dir":      "",
	"notify_max_retries":      3,
	"notify_retry_backoff":    "30s",
	"notify_max_backoff":      "30m",
	"notify_delivery_timeout": "15s",
	"notify_workers":          4,
	"sweep_interval":          "5m",
	"approval_reminder_age":   "24h",
}

// LoadConfig reads config.yaml from the working directory, if any, and the
// environment. Environment variables win.
func LoadConfig() error {
	return Load(".")
}

func Load(configPath string) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	for _, r := range models.AllRoles {
		_ = v.BindEnv(stakeholderKey(r))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("read config file: %w", err)
		}
	}

	Port = v.GetString("port")
	MongoURI = v.GetString("mongo_uri")
	MongoDatabase = v.GetString("mongo_database")
	JWTKey = []byte(v.GetString("jwt_secret"))

	var err error
	if JWTExpiration, err = parseExpire(v.GetString("jwt_expire")); err != nil {
		return err
	}

	Environment = v.GetString("app_env")
	LogLevel = v.GetString("log_level")
	ServiceVersion = v.GetString("service_version")
	CORSOrigins = splitList(v.GetString("cors_allowed_origins"))

	SMTPHost = v.GetString("smtp_host")
	SMTPPort = v.GetInt("smtp_port")
	SMTPUsername = v.GetString("smtp_username")
	SMTPPassword = v.GetString("smtp_password")
	FromEmail = v.GetString("from_email")
	NATSURL = v.GetString("nats_url")
	NATSSubject = v.GetString("nats_subject")

	WorkflowPolicyFile = v.GetString("workflow_policy_file")
	FormTemplatesDir = v.GetString("form_templates_dir")

	NotifyMaxRetries = v.GetInt("notify_max_retries")
	NotifyWorkers = v.GetInt("notify_workers")
	for key, dst := range map[string]*time.Duration{
		"notify_retry_backoff":    &NotifyRetryBackoff,
		"notify_max_backoff":      &NotifyMaxBackoff,
		"notify_delivery_timeout": &NotifyDeliveryTimeout,
		"sweep_interval":          &SweepInterval,
		"approval_reminder_age":   &ApprovalReminderAge,
	} {
		d, err := time.ParseDuration(v.GetString(key))
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid %s: %q", strings.ToUpper(key), v.GetString(key))
		}
		*dst = d
	}
	if NotifyMaxRetries < 0 {
		return fmt.Errorf("invalid NOTIFY_MAX_RETRIES: %d", NotifyMaxRetries)
	}
	if NotifyWorkers < 1 {
		return fmt.Errorf("invalid NOTIFY_WORKERS: %d", NotifyWorkers)
	}

	StakeholderEmails = make(map[models.Role][]string)
	for _, r := range models.AllRoles {
		if emails := splitList(v.GetString(stakeholderKey(r))); len(emails) > 0 {
			StakeholderEmails[r] = emails
		}
	}
	return nil
}

// parseExpire understands Go durations plus a day suffix ("7d").
func parseExpire(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "d") {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err == nil && days > 0 {
			return time.Duration(days) * 24 * time.Hour, nil
		}
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid JWT_EXPIRE: %q", s)
	}
	return d, nil
}

func stakeholderKey(r models.Role) string {
	return "stakeholder_emails_" + string(r)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
