// Copyright 2014 The Prometheus Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package notify

import (
	"fmt"
	"net"
	"net/http"
	"net/smtp"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// channelTimeout bounds every notification transport's I/O so a hung SMTP
// server or Telegram endpoint cannot stall the cycle that fired it.
const channelTimeout = 10 * time.Second

// ChannelsConfig is the on-disk shape of the optional notification
// channel configuration file. Each channel's Send composes its own
// plain-text message from the subject, description and metadata.
type ChannelsConfig struct {
	Email struct {
		Enabled  bool     `yaml:"enabled"`
		SMTPAddr string   `yaml:"smtp_addr"`
		From     string   `yaml:"from"`
		To       []string `yaml:"to"`
	} `yaml:"email"`
	Telegram struct {
		Enabled  bool   `yaml:"enabled"`
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
}

// LoadChannelsConfig reads and parses a YAML channel configuration file.
func LoadChannelsConfig(path string) (ChannelsConfig, error) {
	var cfg ChannelsConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading channel config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing channel config: %w", err)
	}
	return cfg, nil
}

// BuildChannels constructs the enabled Channel implementations from cfg,
// in a stable order (email before telegram).
func BuildChannels(cfg ChannelsConfig) []Channel {
	var channels []Channel
	if cfg.Email.Enabled {
		channels = append(channels, &emailChannel{
			smtpAddr: cfg.Email.SMTPAddr,
			from:     cfg.Email.From,
			to:       cfg.Email.To,
		})
	}
	if cfg.Telegram.Enabled {
		channels = append(channels, &telegramChannel{
			botToken: cfg.Telegram.BotToken,
			chatID:   cfg.Telegram.ChatID,
			client:   &http.Client{Timeout: channelTimeout},
		})
	}
	return channels
}

type emailChannel struct {
	smtpAddr string
	from     string
	to       []string
}

func (c *emailChannel) Name() string { return "email" }

// Send dials smtpAddr with a hard deadline rather than using
// smtp.SendMail, which has no timeout of its own and can hang the cycle
// that called it indefinitely against an unresponsive server.
func (c *emailChannel) Send(subject, description string, meta Metadata) bool {
	body := fmt.Sprintf("Subject: %s\r\n\r\n%s\r\n\nstatus=%s severity=%s instance=%s\n",
		subject, description, meta.Status, meta.Severity, meta.Instance)

	conn, err := net.DialTimeout("tcp", c.smtpAddr, channelTimeout)
	if err != nil {
		return false
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(channelTimeout))

	host, _, err := net.SplitHostPort(c.smtpAddr)
	if err != nil {
		host = c.smtpAddr
	}
	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return false
	}
	defer client.Close()

	if err := client.Mail(c.from); err != nil {
		return false
	}
	for _, to := range c.to {
		if err := client.Rcpt(to); err != nil {
			return false
		}
	}
	w, err := client.Data()
	if err != nil {
		return false
	}
	if _, err := w.Write([]byte(body)); err != nil {
		return false
	}
	if err := w.Close(); err != nil {
		return false
	}
	return client.Quit() == nil
}

type telegramChannel struct {
	botToken string
	chatID   string
	client   *http.Client
}

func (c *telegramChannel) Name() string { return "telegram" }

func (c *telegramChannel) Send(subject, description string, meta Metadata) bool {
	text := fmt.Sprintf("%s\n%s\nstatus=%s severity=%s instance=%s", subject, description, meta.Status, meta.Severity, meta.Instance)
	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", c.botToken)
	form := url.Values{"chat_id": {c.chatID}, "text": {text}}
	resp, err := c.client.PostForm(endpoint, form)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode/100 == 2
}

// Subject renders a canonical notification subject for a firing/repeating/
// resolved transition. Kept here rather than in the detector or state
// machine because wording is a notification-layer concern.
func Subject(metricName string, status Status) string {
	return strings.ToUpper(string(status)) + ": " + metricName
}
