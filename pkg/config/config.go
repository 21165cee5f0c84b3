package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM struct {
		Provider    string  `yaml:"provider"`
		BaseURL     string  `yaml:"base_url"`
		Model       string  `yaml:"model"`
		APIKey      string  `yaml:"api_key"`
		MaxTokens   int     `yaml:"max_tokens"`
		Temperature float64 `yaml:"temperature"`
		MaxAttempts int     `yaml:"max_attempts"`
	} `yaml:"llm"`

	Search struct {
		Provider   string  `yaml:"provider"`
		BaseURL    string  `yaml:"base_url"`
		MaxResults int     `yaml:"max_results"`
		RateLimit  float64 `yaml:"rate_limit"`
		TimeoutSec int     `yaml:"timeout_sec"`
		CacheSize  int     `yaml:"cache_size"`
		Workers    int     `yaml:"workers"`
	} `yaml:"search"`

	Analysis struct {
		Strict         bool `yaml:"strict"`
		MinChunkWords  int  `yaml:"min_chunk_words"`
		MaxChunkWords  int  `yaml:"max_chunk_words"`
		MaxFindings    int  `yaml:"max_findings"`
		GradeBudget    int  `yaml:"grade_budget"`
		FeedbackBudget int  `yaml:"feedback_budget"`
	} `yaml:"analysis"`

	Pipeline struct {
		PollIntervalMs int    `yaml:"poll_interval_ms"`
		AppName        string `yaml:"app_name"`
		UserID         string `yaml:"user_id"`
	} `yaml:"pipeline"`

	Database struct {
		URL            string `yaml:"url"`
		TableName      string `yaml:"table_name"`
		VectorDim      int    `yaml:"vector_dim"`
		BatchSize      int    `yaml:"batch_size"`
		EmbeddingModel string `yaml:"embedding_model"`
	} `yaml:"database"`

	History struct {
		Path string `yaml:"path"`
	} `yaml:"history"`

	Output struct {
		ReportPath string `yaml:"report_path"`
		S3         struct {
			Endpoint  string `yaml:"endpoint"`
			Region    string `yaml:"region"`
			AccessKey string `yaml:"access_key"`
			SecretKey string `yaml:"secret_key"`
			Bucket    string `yaml:"bucket"`
			UseSSL    bool   `yaml:"use_ssl"`
			Prefix    string `yaml:"prefix"`
		} `yaml:"s3"`
	} `yaml:"output"`

	Logging struct {
		File       string `yaml:"file"`
		Production bool   `yaml:"production"`
	} `yaml:"logging"`

	Server struct {
		Addr           string   `yaml:"addr"`
		TmpDir         string   `yaml:"tmp_dir"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
}

func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/grader/config.yaml"),
			"/etc/grader/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	mergeWithEnv(&config)
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.Provider == "" {
		config.LLM.Provider = "ollama"
	}
	if config.LLM.Model == "" {
		if config.LLM.Provider == "gemini" {
			config.LLM.Model = "gemini-2.5-flash-lite"
		} else {
			config.LLM.Model = "mistral"
		}
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 2000
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.2
	}
	if config.LLM.BaseURL == "" {
		config.LLM.BaseURL = "http://localhost:11434"
	}
	if config.LLM.MaxAttempts == 0 {
		config.LLM.MaxAttempts = 5
	}

	if config.Search.Provider == "" {
		config.Search.Provider = "duckduckgo"
	}
	if config.Search.BaseURL == "" {
		config.Search.BaseURL = "https://html.duckduckgo.com/html/"
	}
	if config.Search.MaxResults == 0 {
		config.Search.MaxResults = 3
	}
	if config.Search.RateLimit == 0 {
		config.Search.RateLimit = 1.0
	}
	if config.Search.TimeoutSec == 0 {
		config.Search.TimeoutSec = 10
	}
	if config.Search.CacheSize == 0 {
		config.Search.CacheSize = 512
	}
	if config.Search.Workers == 0 {
		config.Search.Workers = 2
	}

	if config.Analysis.MinChunkWords == 0 {
		config.Analysis.MinChunkWords = 25
	}
	if config.Analysis.MaxChunkWords == 0 {
		config.Analysis.MaxChunkWords = 40
	}
	if config.Analysis.MaxFindings == 0 {
		config.Analysis.MaxFindings = 5
	}
	if config.Analysis.GradeBudget == 0 {
		config.Analysis.GradeBudget = 8000
	}
	if config.Analysis.FeedbackBudget == 0 {
		config.Analysis.FeedbackBudget = 6000
	}

	if config.Pipeline.PollIntervalMs == 0 {
		config.Pipeline.PollIntervalMs = 250
	}
	if config.Pipeline.AppName == "" {
		config.Pipeline.AppName = "grader"
	}
	if config.Pipeline.UserID == "" {
		config.Pipeline.UserID = "grader_user"
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "submissions"
	}
	if config.Database.VectorDim == 0 {
		config.Database.VectorDim = 768
	}
	if config.Database.BatchSize == 0 {
		config.Database.BatchSize = 100
	}
	if config.Database.EmbeddingModel == "" {
		config.Database.EmbeddingModel = "nomic-embed-text:latest"
	}

	if config.History.Path == "" {
		config.History.Path = filepath.Join("output", "history.db")
	}

	if config.Output.ReportPath == "" {
		config.Output.ReportPath = filepath.Join("output", "latest_report.json")
	}
	if config.Output.S3.Region == "" {
		config.Output.S3.Region = "us-east-1"
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
	if config.Server.TmpDir == "" {
		config.Server.TmpDir = "tmp"
	}
	if len(config.Server.AllowedOrigins) == 0 {
		config.Server.AllowedOrigins = []string{
			"http://localhost:8080",
			"http://localhost:3000",
			"http://127.0.0.1:8080",
		}
	}
}

func mergeWithEnv(config *Config) {
	if provider := os.Getenv("LLM_PROVIDER"); provider != "" {
		config.LLM.Provider = provider
	}
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if key := firstNonEmpty(os.Getenv("GEMINI_API_KEY"), os.Getenv("GOOGLE_API_KEY")); key != "" {
		config.LLM.APIKey = key
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if strict := os.Getenv("GRADER_STRICT"); strict != "" {
		if v, err := strconv.ParseBool(strict); err == nil {
			config.Analysis.Strict = v
		}
	}
	if endpoint := os.Getenv("REPORT_S3_ENDPOINT"); endpoint != "" {
		config.Output.S3.Endpoint = endpoint
	}
	if access := os.Getenv("REPORT_S3_ACCESS_KEY"); access != "" {
		config.Output.S3.AccessKey = access
	}
	if secret := os.Getenv("REPORT_S3_SECRET_KEY"); secret != "" {
		config.Output.S3.SecretKey = secret
	}
	if bucket := os.Getenv("REPORT_S3_BUCKET"); bucket != "" {
		config.Output.S3.Bucket = bucket
	}
	if prefix := os.Getenv("REPORT_S3_PREFIX"); prefix != "" {
		config.Output.S3.Prefix = prefix
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		var out []string
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				out = append(out, o)
			}
		}
		config.Server.AllowedOrigins = out
	}
	if port := os.Getenv("PORT"); port != "" {
		if strings.HasPrefix(port, ":") {
			config.Server.Addr = port
		} else {
			config.Server.Addr = ":" + port
		}
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
