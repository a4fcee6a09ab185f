package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/joho/godotenv"

	"github.com/wolfman30/doctor-appointment-assistant/cmd/mainconfig"
	"github.com/wolfman30/doctor-appointment-assistant/internal/app/bootstrap"
	appconfig "github.com/wolfman30/doctor-appointment-assistant/internal/config"
	"github.com/wolfman30/doctor-appointment-assistant/internal/conversation"
	"github.com/wolfman30/doctor-appointment-assistant/pkg/logging"
)

// Runs a short scripted conversation against the configured model. The doctor
// webhook is replaced by a local recorder and appointments go to a temp file,
// so nothing leaves the machine except model calls.
func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}
	cfg := appconfig.Load()
	logger := logging.New("warn")

	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		fmt.Printf("    [webhook] %s\n", strings.TrimSpace(string(body)))
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	dir, err := os.MkdirTemp("", "llmtest-*")
	if err != nil {
		log.Fatalf("temp dir: %v", err)
	}
	defer os.RemoveAll(dir)
	cfg.WebhookURL = hook.URL
	cfg.AppointmentsFile = filepath.Join(dir, "appointments.json")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	var awsCfg *aws.Config
	if cfg.BedrockModelID != "" {
		loaded, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			log.Fatalf("aws config: %v", err)
		}
		awsCfg = &loaded
	}

	llm, err := bootstrap.BuildLLMClient(ctx, cfg, awsCfg, logger)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	defer llm.Close()

	assistant, err := bootstrap.BuildAssistant(cfg, llm, logger, nil)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	script := []string{
		"Which doctors are available on Saturday?",
		"Book me with Dr. Ahmed this Saturday at 11 AM. My name is Ali Raza.",
		"Can I see Dr. Khan on Sunday at 10 AM?",
	}

	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Agent smoke test (model %s)\n", llm.Model)
	fmt.Println(strings.Repeat("=", 60))

	var history []conversation.ChatMessage
	for i, msg := range script {
		fmt.Printf("\n[%d] patient: %s\n", i+1, msg)
		start := time.Now()
		result := assistant.Agent.Respond(ctx, history, msg)
		for _, call := range result.Calls {
			status := "skipped"
			if call.Executed {
				status = "ran"
			}
			fmt.Printf("    tool %s (%s): %s\n", call.Tool, status, call.Result)
		}
		fmt.Printf("    assistant (%v, %d steps): %s\n", time.Since(start).Round(time.Millisecond), result.Steps, result.Reply)
		history = append(history,
			conversation.ChatMessage{Role: conversation.ChatRoleUser, Content: msg},
			conversation.ChatMessage{Role: conversation.ChatRoleAssistant, Content: result.Reply},
		)
	}

	records, err := assistant.Bookings.List(ctx)
	if err != nil {
		log.Fatalf("list appointments: %v", err)
	}
	fmt.Printf("\n%d appointment(s) recorded in %s\n", len(records), cfg.AppointmentsFile)
}
