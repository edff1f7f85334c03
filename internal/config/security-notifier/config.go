package security_notifier_config

import (
	"errors"
	"time"

	"github.com/NordCoder/Turnstile/internal/obs"
	kafkarepo "github.com/NordCoder/Turnstile/internal/repository/kafka"
	pg "github.com/NordCoder/Turnstile/internal/repository/postgres"
)

type SMTP struct {
	Addr       string        `mapstructure:"addr"`
	From       string        `mapstructure:"from"`
	User       string        `mapstructure:"user"`
	Password   string        `mapstructure:"password"`
	UseTLS     bool          `mapstructure:"use_tls"`
	Timeout    time.Duration `mapstructure:"timeout"`
	SubjPrefix string        `mapstructure:"subj_prefix"`
}

type Server struct {
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type Config struct {
	DB     pg.Config                `mapstructure:"db"`
	In     kafkarepo.ConsumerConfig `mapstructure:"kafka_in"`
	SMTP   SMTP                     `mapstructure:"smtp"`
	Server Server                   `mapstructure:"server"`
	OTEL   obs.OTELConfig           `mapstructure:"otel"`
	Log    obs.LogConfig            `mapstructure:"log"`
}

func (c *Config) Validate() error {
	var errs []error
	if c.DB.DSN == "" {
		errs = append(errs, errors.New("db.dsn is required"))
	}
	if len(c.In.Brokers) == 0 || c.In.Topic == "" || c.In.GroupID == "" {
		errs = append(errs, errors.New("kafka_in.brokers, topic and group_id are required"))
	}
	if c.SMTP.Addr == "" || c.SMTP.From == "" {
		errs = append(errs, errors.New("smtp.addr and smtp.from are required"))
	}
	return errors.Join(errs...)
}
