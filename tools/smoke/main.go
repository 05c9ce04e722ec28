// Command smoke drives the render farm HTTP API end to end against a
// running renderfarmd: login, spawn a task from the .blend file given with
// -blend, poll until packed, and fetch the result.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"time"
)

func main() {
	baseURL := flag.String("url", "http://127.0.0.1:8888", "renderfarmd base URL")
	username := flag.String("username", "", "provisioned username")
	password := flag.String("password", "", "provisioned password")
	blendPath := flag.String("blend", "", "path to a .blend file to upload")
	timeout := flag.Duration("timeout", 60*time.Second, "overall timeout")
	flag.Parse()

	if *username == "" || *password == "" || *blendPath == "" {
		fmt.Fprintln(os.Stderr, "username, password, and blend are required")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := &http.Client{}

	sessionID, err := login(ctx, client, *baseURL, *username, *password)
	if err != nil {
		fatal("login", err)
	}
	fmt.Printf("CHECK login ok session_id=%s\n", sessionID)

	taskID, err := spawnTask(ctx, client, *baseURL, sessionID, *blendPath)
	if err != nil {
		fatal("task/request", err)
	}
	fmt.Printf("CHECK task spawned task_id=%s\n", taskID)

	state, err := pollUntilPacked(ctx, client, *baseURL, sessionID, taskID)
	if err != nil {
		fatal("poll", err)
	}
	fmt.Printf("CHECK task reached state=%s\n", state)

	n, err := fetchResult(ctx, client, *baseURL, sessionID, taskID)
	if err != nil {
		fatal("task/result", err)
	}
	fmt.Printf("CHECK downloaded result bytes=%d\n", n)

	fmt.Println("VERDICT PASS")
}

func login(ctx context.Context, client *http.Client, baseURL, username, password string) (string, error) {
	v := url.Values{"username": {username}, "password": {password}}
	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := getJSON(ctx, client, baseURL+"/login?"+v.Encode(), &out); err != nil {
		return "", err
	}
	return out.SessionID, nil
}

func spawnTask(ctx context.Context, client *http.Client, baseURL, sessionID, blendPath string) (string, error) {
	f, err := os.Open(blendPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	_ = w.WriteField("session_id", sessionID)
	_ = w.WriteField("task_name", "smoke-test")
	_ = w.WriteField("start_frame", "1")
	_ = w.WriteField("end_frame", "1")
	fw, err := w.CreateFormFile("file", "smoke.blend")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/task/request", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, b)
	}

	var out struct {
		TaskID string `json:"task_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.TaskID, nil
}

func pollUntilPacked(ctx context.Context, client *http.Client, baseURL, sessionID, taskID string) (string, error) {
	v := url.Values{"session_id": {sessionID}, "task_id": {taskID}}
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		var out struct {
			State string `json:"state"`
		}
		if err := getJSON(ctx, client, baseURL+"/task/stat?"+v.Encode(), &out); err != nil {
			return "", err
		}
		switch out.State {
		case "PACKED", "DONE":
			return out.State, nil
		case "FAILED(BLENDER)", "FAILED(TAR)", "KILLED":
			return "", fmt.Errorf("task entered terminal failure state %s", out.State)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func fetchResult(ctx context.Context, client *http.Client, baseURL, sessionID, taskID string) (int64, error) {
	v := url.Values{"session_id": {sessionID}, "task_id": {taskID}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/task/result?"+v.Encode(), nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, b)
	}
	return io.Copy(io.Discard, resp.Body)
}

func getJSON(ctx context.Context, client *http.Client, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, b)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func fatal(step string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", step, err)
	os.Exit(1)
}
