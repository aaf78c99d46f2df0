// Command streamclient submits a send job built from a CSV file and prints
// the progress frames as they arrive.
//
//	BATCHMAIL_URL=http://localhost:3000 go run ./example/streamclient recipients.csv template.html
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"os"
	"strconv"
	"strings"

	"github.io/infrasutra/batchmail/internal/recipient"
	"github.io/infrasutra/batchmail/internal/stream"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: streamclient <recipients.csv> <template.html>")
		os.Exit(2)
	}
	baseURL := strings.TrimRight(getenvDefault("BATCHMAIL_URL", "http://localhost:3000"), "/")
	adminEmail := os.Getenv("ADMIN_EMAIL")
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	rows, err := readRows(os.Args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, "read csv:", err)
		os.Exit(1)
	}
	template, err := os.ReadFile(os.Args[2])
	if err != nil {
		fmt.Fprintln(os.Stderr, "read template:", err)
		os.Exit(1)
	}

	client := newClient()
	if adminEmail != "" {
		login(client, baseURL, adminEmail, adminPassword)
	}

	batchSize, _ := strconv.Atoi(os.Getenv("BATCH_SIZE"))
	payload, _ := json.Marshal(map[string]any{
		"rows": rows,
		"mapping": recipient.Mapping{
			Recipient: getenvDefault("RECIPIENT_COLUMN", "email"),
			Name:      getenvDefault("NAME_COLUMN", "name"),
			Subject:   os.Getenv("SUBJECT_COLUMN"),
		},
		"template":        string(template),
		"subjectTemplate": os.Getenv("SUBJECT_TEMPLATE"),
		"batchSize":       batchSize,
		"dryRun":          os.Getenv("DRY_RUN") == "true",
	})

	resp := mustDo(client, http.MethodPost, baseURL+"/api/send/stream", bytes.NewReader(payload))
	defer resp.Body.Close()
	fmt.Println("job", resp.Header.Get("X-Job-ID"))

	dec := stream.NewDecoder(resp.Body)
	for {
		frame, err := dec.Next()
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(os.Stderr, "stream ended before done")
			os.Exit(1)
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		switch frame.Type {
		case stream.TypeStart:
			fmt.Printf("sending to %d recipients\n", frame.Total)
		case stream.TypeItem:
			if frame.Status == "sent" {
				fmt.Printf("[%d] %s sent %s\n", frame.Index+1, frame.To, frame.MessageID)
			} else {
				fmt.Printf("[%d] %s failed: %s\n", frame.Index+1, frame.To, frame.Error)
			}
		case stream.TypeDone:
			fmt.Printf("done: sent=%d failed=%d\n", frame.Sent, frame.Failed)
			return
		}
	}
}

// readRows turns a CSV file with a header line into recipient rows.
func readRows(path string) ([]recipient.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.New("csv has no header")
	}
	header := records[0]
	rows := make([]recipient.Row, 0, len(records)-1)
	for _, record := range records[1:] {
		row := recipient.Row{}
		for i, column := range header {
			if i < len(record) {
				row[strings.TrimSpace(column)] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func newClient() *http.Client {
	jar, _ := cookiejar.New(nil)
	return &http.Client{Jar: jar}
}

func login(client *http.Client, baseURL, email, password string) {
	payload, _ := json.Marshal(map[string]string{"email": email, "password": password})
	resp := mustDo(client, http.MethodPost, baseURL+"/api/auth/login", bytes.NewReader(payload))
	_ = resp.Body.Close()
}

func mustDo(client *http.Client, method, url string, body io.Reader) *http.Response {
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		panic(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		panic(err)
	}
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		panic(fmt.Sprintf("request failed: %s %s: %s", method, url, string(b)))
	}
	return resp
}

func getenvDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
