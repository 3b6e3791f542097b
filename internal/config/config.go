package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

type Config struct {
	Mode      Mode
	HTTPAddr  string
	PublicURL string

	DBDriver string
	DBDSN    string

	BlobBasePath string // rendered certificate images, served under /assets

	AuthSecret string

	CORSOriginsOnline  []string
	CORSOriginsOffline []string

	// Timed assessment policy. Cooldowns apply after failed, abandoned and
	// expired attempts alike.
	ChapterQuestionCount int
	FinalQuestionCount   int
	ChapterPassingScore  int
	FinalPassingScore    int
	ChapterCooldown      time.Duration
	FinalCooldown        time.Duration
	PerQuestionBudget    time.Duration
	SessionTimeBuffer    time.Duration
	ReaperInterval       time.Duration
}

func FromEnv() Config {
	mode := Mode(os.Getenv("MODE"))
	if mode == "" {
		mode = ModeOffline
	}
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	return Config{
		Mode:      mode,
		HTTPAddr:  addr,
		PublicURL: os.Getenv("PUBLIC_URL"),

		DBDriver: envOr("DB_DRIVER", "sqlite"),
		DBDSN:    envOr("DB_DSN", ""),

		BlobBasePath: envOr("BLOB_BASE_PATH", "./data"),

		AuthSecret: envOr("AUTH_HMAC_SECRET", "supersecret-dev-key"),

		CORSOriginsOnline:  csvOr("CORS_ORIGINS_ONLINE", "https://app.pathlight-learn.io"),
		CORSOriginsOffline: csvOr("CORS_ORIGINS_OFFLINE", "http://localhost:3000,http://localhost:3010"),

		ChapterQuestionCount: envInt("CHAPTER_QUESTION_COUNT", 20),
		FinalQuestionCount:   envInt("FINAL_QUESTION_COUNT", 50),
		ChapterPassingScore:  envInt("CHAPTER_PASSING_SCORE", 70),
		FinalPassingScore:    envInt("FINAL_PASSING_SCORE", 80),
		ChapterCooldown:      envDur("CHAPTER_COOLDOWN", 3*time.Hour),
		FinalCooldown:        envDur("FINAL_COOLDOWN", 24*time.Hour),
		PerQuestionBudget:    envDur("PER_QUESTION_BUDGET", 60*time.Second),
		SessionTimeBuffer:    envDur("SESSION_TIME_BUFFER", 5*time.Minute),
		ReaperInterval:       envDur("REAPER_INTERVAL", time.Minute),
	}
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func envInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDur(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
