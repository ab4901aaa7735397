package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
)

type loginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

// Smoke-checks a running server: login as two users, open a conversation,
// send a message, list it back.
func main() {
	apiAddr := "http://localhost:8080"

	alice := login(apiAddr, "alice")
	bob := login(apiAddr, "bob")
	fmt.Printf("Tokens: %s... / %s...\n", alice.Token[:10], bob.Token[:10])

	// Create a conversation between the two.
	convBody, _ := json.Marshal(map[string]any{
		"title":           "smoke test",
		"is_group":        false,
		"participant_ids": []string{bob.UserID},
	})
	var conv struct {
		ID string `json:"id"`
	}
	post(apiAddr+"/conversations", alice.Token, convBody, &conv)
	log.Printf("Conversation: %s", conv.ID)

	// Send and list.
	msgBody, _ := json.Marshal(map[string]string{"content": "hello from verify_api"})
	var msg struct {
		ID string `json:"id"`
	}
	post(apiAddr+"/conversations/"+conv.ID+"/messages", alice.Token, msgBody, &msg)
	log.Printf("Message: %s", msg.ID)

	req, _ := http.NewRequest("GET", apiAddr+"/conversations/"+conv.ID+"/messages", nil)
	req.Header.Add("Authorization", "Bearer "+bob.Token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal("List request failed:", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	log.Printf("History: %s", string(body))
}

func login(apiAddr, username string) loginResponse {
	reqBody, _ := json.Marshal(map[string]string{"username": username})
	resp, err := http.Post(apiAddr+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()

	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Fatal(err)
	}
	return out
}

func post(url, token string, body []byte, out any) {
	req, _ := http.NewRequest("POST", url, bytes.NewBuffer(body))
	req.Header.Add("Authorization", "Bearer "+token)
	req.Header.Add("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		log.Fatalf("POST %s: %d %s", url, resp.StatusCode, raw)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		log.Fatal(err)
	}
}
