package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type config struct {
	equipmentPrefix string
	equipmentCount  int
	startDate       string
	hours           int
	failureRate     float64
	labelled        bool
	seed            int64
	out             string
	baseURL         string
	token           string
}

type profile struct {
	temp, vibration, pressure float64
}

var (
	normalProfile  = profile{temp: 65, vibration: 12, pressure: 100}
	failureProfile = profile{temp: 98, vibration: 50, pressure: 88}
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := newRootCmd(logger).Execute(); err != nil {
		logger.Fatal("sample_csv failed", zap.Error(err))
	}
}

func newRootCmd(logger *zap.Logger) *cobra.Command {
	cfg := config{}
	cmd := &cobra.Command{
		Use:          "sample_csv",
		Short:        "Generate a synthetic sensor CSV and optionally upload it",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.OutOrStdout(), cfg, logger)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&cfg.equipmentPrefix, "equipment-prefix", envOrDefault("EQUIPMENT_PREFIX", "EQ-"), "equipment id prefix")
	flags.IntVar(&cfg.equipmentCount, "equipment-count", envOrInt("EQUIPMENT_COUNT", 5), "number of equipment ids")
	flags.StringVar(&cfg.startDate, "start-date", envOrDefault("START_DATE", ""), "first reading time (YYYY-MM-DD or RFC3339)")
	flags.IntVar(&cfg.hours, "hours", envOrInt("HOURS", 24), "hourly readings per equipment")
	flags.Float64Var(&cfg.failureRate, "failure-rate", 0.1, "share of readings drawn from the failure profile")
	flags.BoolVar(&cfg.labelled, "labelled", false, "emit the failure_type column")
	flags.Int64Var(&cfg.seed, "seed", 1, "random seed")
	flags.StringVar(&cfg.out, "out", envOrDefault("OUT", ""), "output file")
	flags.StringVar(&cfg.baseURL, "base-url", envOrDefault("BASE_URL", ""), "server base URL to upload to")
	flags.StringVar(&cfg.token, "token", envOrDefault("API_TOKEN", ""), "bearer token for upload")
	return cmd
}

func run(stdout io.Writer, cfg config, logger *zap.Logger) error {
	if cfg.equipmentCount <= 0 {
		return errors.New("equipment-count must be > 0")
	}
	if cfg.hours <= 0 {
		return errors.New("hours must be > 0")
	}
	if cfg.failureRate < 0 || cfg.failureRate > 1 {
		return errors.New("failure-rate must be within [0,1]")
	}
	start, err := parseStartDate(cfg.startDate)
	if err != nil {
		return fmt.Errorf("invalid start-date: %w", err)
	}

	var buf bytes.Buffer
	rows, err := generate(&buf, cfg, start)
	if err != nil {
		return fmt.Errorf("generate csv: %w", err)
	}
	logger.Info("generated readings", zap.Int("rows", rows), zap.Int("equipment", cfg.equipmentCount))

	if cfg.out != "" {
		if err := os.WriteFile(cfg.out, buf.Bytes(), 0o644); err != nil {
			return fmt.Errorf("write csv: %w", err)
		}
		logger.Info("csv written", zap.String("path", cfg.out))
	}
	if cfg.baseURL != "" {
		body, err := upload(context.Background(), cfg.baseURL, cfg.token, buf.Bytes())
		if err != nil {
			return fmt.Errorf("upload csv: %w", err)
		}
		logger.Info("upload accepted", zap.String("response", strings.TrimSpace(body)))
	}
	if cfg.out == "" && cfg.baseURL == "" {
		_, err = stdout.Write(buf.Bytes())
		return err
	}
	return nil
}

// generate writes cfg.hours readings for each equipment and returns the row count.
func generate(w io.Writer, cfg config, start time.Time) (int, error) {
	rng := rand.New(rand.NewSource(cfg.seed))
	writer := csv.NewWriter(w)
	header := []string{"timestamp", "equipment_id", "temp", "vibration", "pressure"}
	if cfg.labelled {
		header = append(header, "failure_type")
	}
	if err := writer.Write(header); err != nil {
		return 0, err
	}

	rows := 0
	for h := 0; h < cfg.hours; h++ {
		ts := start.Add(time.Duration(h) * time.Hour).UTC().Format("2006-01-02 15:04:05")
		for e := 1; e <= cfg.equipmentCount; e++ {
			failing := rng.Float64() < cfg.failureRate
			p := normalProfile
			if failing {
				p = failureProfile
			}
			record := []string{
				ts,
				fmt.Sprintf("%s%d", cfg.equipmentPrefix, e),
				jitter(rng, p.temp, 3),
				jitter(rng, p.vibration, 2),
				jitter(rng, p.pressure, 1.5),
			}
			if cfg.labelled {
				label := "0"
				if failing {
					label = "1"
				}
				record = append(record, label)
			}
			if err := writer.Write(record); err != nil {
				return rows, err
			}
			rows++
		}
	}
	writer.Flush()
	return rows, writer.Error()
}

func jitter(rng *rand.Rand, center, spread float64) string {
	value := center + (rng.Float64()*2-1)*spread
	return strconv.FormatFloat(value, 'f', 2, 64)
}

func upload(ctx context.Context, baseURL, token string, data []byte) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "sensor_data.csv")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	url := strings.TrimRight(baseURL, "/") + "/upload_csv"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	payload, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upload status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	return string(payload), nil
}

func parseStartDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Now().UTC().AddDate(0, 0, -1).Truncate(time.Hour), nil
	}
	if strings.Contains(value, "T") {
		parsed, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return time.Time{}, err
		}
		return parsed.UTC(), nil
	}
	return time.Parse("2006-01-02", value)
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
