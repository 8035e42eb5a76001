package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"dropslot/internal/domain"
)

const defaultBaseURL = "http://localhost:8080"

const passwordHeader = "X-Slot-Password"

const (
	maxRetries = 5
	retryDelay = 1 * time.Second
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	baseURL := os.Getenv("DROPSLOT_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	switch os.Args[1] {
	case "create":
		if len(os.Args) != 3 {
			fmt.Fprintf(os.Stderr, "Usage: %s create <password>\n", os.Args[0])
			os.Exit(1)
		}
		createSlot(baseURL, os.Args[2])
	case "upload":
		if len(os.Args) < 5 {
			fmt.Fprintf(os.Stderr, "Usage: %s upload <slot-id> <password> <file>...\n", os.Args[0])
			os.Exit(1)
		}
		uploadFiles(baseURL, os.Args[2], os.Args[3], os.Args[4:])
	case "note":
		if len(os.Args) != 5 {
			fmt.Fprintf(os.Stderr, "Usage: %s note <slot-id> <password> <text>\n", os.Args[0])
			os.Exit(1)
		}
		uploadText(baseURL, os.Args[2], os.Args[3], os.Args[4])
	case "access":
		if len(os.Args) != 4 {
			fmt.Fprintf(os.Stderr, "Usage: %s access <slot-id> <password>\n", os.Args[0])
			os.Exit(1)
		}
		accessSlot(baseURL, os.Args[2], os.Args[3])
	case "download":
		if len(os.Args) != 5 && len(os.Args) != 6 {
			fmt.Fprintf(os.Stderr, "Usage: %s download <slot-id> <password> <file-id> [output]\n", os.Args[0])
			os.Exit(1)
		}
		output := ""
		if len(os.Args) == 6 {
			output = os.Args[5]
		}
		downloadFile(baseURL, os.Args[2], os.Args[3], os.Args[4], output)
	case "delete":
		if len(os.Args) != 4 {
			fmt.Fprintf(os.Stderr, "Usage: %s delete <slot-id> <password>\n", os.Args[0])
			os.Exit(1)
		}
		deleteSlot(baseURL, os.Args[2], os.Args[3])
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf("Usage: %s <command> [arguments]\n", os.Args[0])
	fmt.Println("A simple CLI to share files and notes through ephemeral slots.")
	fmt.Println("\nCommands:")
	fmt.Println("  create <password>                           Create a new slot")
	fmt.Println("  upload <slot-id> <password> <file>...       Upload files to a slot")
	fmt.Println("  note <slot-id> <password> <text>            Attach a text note to a slot")
	fmt.Println("  access <slot-id> <password>                 List a slot's contents")
	fmt.Println("  download <slot-id> <password> <file-id> [output]")
	fmt.Println("                                              Download a file from a slot")
	fmt.Println("  delete <slot-id> <password>                 Delete a slot and its contents")
	fmt.Println("  help                                        Show this help message")
	fmt.Println("\nEnvironment variables:")
	fmt.Println("  DROPSLOT_URL                                Base URL of the server (default: http://localhost:8080)")
}

// doRequestWithRetry handles retries for serverless instances that may need to wake up.
func doRequestWithRetry(req *http.Request) (*http.Response, error) {
	client := &http.Client{}

	for i := 0; i < maxRetries; i++ {
		if i > 0 {
			log.Printf("server returned 502, retrying in %v... (%d/%d)", retryDelay, i, maxRetries-1)
			time.Sleep(retryDelay)
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode != http.StatusBadGateway {
			return resp, nil
		}

		resp.Body.Close()
	}

	return nil, fmt.Errorf("server unavailable after %d retries", maxRetries)
}

func fatalStatus(action string, resp *http.Response) {
	body, _ := io.ReadAll(resp.Body)
	log.Fatalf("failed to %s: status %d, body: %s", action, resp.StatusCode, body)
}

func createSlot(baseURL, password string) {
	reqBody, err := json.Marshal(domain.CreateReq{Password: password})
	if err != nil {
		log.Fatalf("failed to marshal request: %v", err)
	}

	req, err := http.NewRequest("POST", baseURL+"/slots", bytes.NewReader(reqBody))
	if err != nil {
		log.Fatalf("failed to create request: %v", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(reqBody)), nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := doRequestWithRetry(req)
	if err != nil {
		log.Fatalf("failed to create slot: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		fatalStatus("create slot", resp)
	}

	var createRes domain.CreateRes
	if err := json.NewDecoder(resp.Body).Decode(&createRes); err != nil {
		log.Fatalf("failed to decode response: %v", err)
	}

	fmt.Println("Your slot is ready:")
	fmt.Printf("Slot ID: %s\n", createRes.SlotID)
	fmt.Printf("Expires: %s\n", createRes.ExpiresAt.Format(time.RFC1123))
}

func uploadFiles(baseURL, slotID, password string, paths []string) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			log.Fatalf("failed to open %s: %v", path, err)
		}
		part, err := mw.CreateFormFile("files", filepath.Base(path))
		if err != nil {
			f.Close()
			log.Fatalf("failed to build form: %v", err)
		}
		if _, err := io.Copy(part, f); err != nil {
			f.Close()
			log.Fatalf("failed to read %s: %v", path, err)
		}
		f.Close()
	}
	if err := mw.Close(); err != nil {
		log.Fatalf("failed to finalize form: %v", err)
	}

	req, err := http.NewRequest("POST", baseURL+"/slots/"+slotID, bytes.NewReader(buf.Bytes()))
	if err != nil {
		log.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(passwordHeader, password)

	resp, err := doRequestWithRetry(req)
	if err != nil {
		log.Fatalf("failed to upload: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fatalStatus("upload", resp)
	}

	var uploadRes domain.UploadRes
	if err := json.NewDecoder(resp.Body).Decode(&uploadRes); err != nil {
		log.Fatalf("failed to decode response: %v", err)
	}

	for _, f := range uploadRes.Files {
		fmt.Printf("Uploaded %s (%d bytes) as %s\n", f.OriginalName, f.Size, f.ID)
	}
}

func uploadText(baseURL, slotID, password, text string) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("text", text); err != nil {
		log.Fatalf("failed to build form: %v", err)
	}
	if err := mw.Close(); err != nil {
		log.Fatalf("failed to finalize form: %v", err)
	}

	req, err := http.NewRequest("POST", baseURL+"/slots/"+slotID, bytes.NewReader(buf.Bytes()))
	if err != nil {
		log.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(passwordHeader, password)

	resp, err := doRequestWithRetry(req)
	if err != nil {
		log.Fatalf("failed to attach note: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fatalStatus("attach note", resp)
	}

	fmt.Println("Note attached.")
}

func accessSlot(baseURL, slotID, password string) {
	req, err := http.NewRequest("POST", baseURL+"/slots/"+slotID+"/access", nil)
	if err != nil {
		log.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set(passwordHeader, password)
	req.Header.Set("Accept", "application/json")

	resp, err := doRequestWithRetry(req)
	if err != nil {
		log.Fatalf("failed to access slot: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fatalStatus("access slot", resp)
	}

	var accessRes domain.AccessRes
	if err := json.NewDecoder(resp.Body).Decode(&accessRes); err != nil {
		log.Fatalf("failed to decode response: %v", err)
	}

	fmt.Printf("Slot %s (expires %s)\n", accessRes.Slot.ID, accessRes.Slot.ExpiresAt.Format(time.RFC1123))
	if len(accessRes.Files) == 0 {
		fmt.Println("No files.")
	}
	for _, f := range accessRes.Files {
		fmt.Printf("  %s  %s (%d bytes)\n", f.ID, f.OriginalName, f.Size)
	}
	if accessRes.TextContent != nil {
		fmt.Printf("Note:\n%s\n", accessRes.TextContent.Content)
	}
}

func downloadFile(baseURL, slotID, password, fileID, output string) {
	req, err := http.NewRequest("GET", baseURL+"/slots/"+slotID+"/files/"+fileID, nil)
	if err != nil {
		log.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set(passwordHeader, password)

	resp, err := doRequestWithRetry(req)
	if err != nil {
		log.Fatalf("failed to download: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fatalStatus("download", resp)
	}

	var out io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			log.Fatalf("failed to create %s: %v", output, err)
		}
		defer f.Close()
		out = f
	}

	if _, err := io.Copy(out, resp.Body); err != nil {
		log.Fatalf("failed to write file: %v", err)
	}
	if output != "" {
		fmt.Printf("Saved to %s\n", output)
	}
}

func deleteSlot(baseURL, slotID, password string) {
	req, err := http.NewRequest("DELETE", baseURL+"/slots/"+slotID, nil)
	if err != nil {
		log.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set(passwordHeader, password)

	resp, err := doRequestWithRetry(req)
	if err != nil {
		log.Fatalf("failed to delete slot: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		fatalStatus("delete slot", resp)
	}

	fmt.Println("Slot deleted.")
}
