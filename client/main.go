package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
)

type loginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

type pushFrame struct {
	Type    string `json:"type"`
	Message *struct {
		SenderID string `json:"sender_id"`
		Content  string `json:"content"`
	} `json:"message"`
	MessageID string `json:"message_id"`
}

func login(apiAddr, username string) (loginResponse, error) {
	reqBody, _ := json.Marshal(map[string]string{"username": username})
	resp, err := http.Post(apiAddr+"/login", "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return loginResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return loginResponse{}, fmt.Errorf("login failed: %s", string(body))
	}

	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return loginResponse{}, err
	}
	return out, nil
}

func sendMessage(apiAddr, token, conversationID, content string) error {
	reqBody, _ := json.Marshal(map[string]string{"content": content})
	req, _ := http.NewRequest("POST", apiAddr+"/conversations/"+conversationID+"/messages", bytes.NewBuffer(reqBody))
	req.Header.Add("Authorization", "Bearer "+token)
	req.Header.Add("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("send failed: %s", string(body))
	}
	return nil
}

func main() {
	serverAddr := flag.String("addr", "localhost:8080", "server address")
	apiAddr := flag.String("api", "http://localhost:8080", "api base url")
	username := flag.String("user", "user1", "username")
	conversationID := flag.String("conv", "", "conversation id to send messages to")
	flag.Parse()

	// 1. Login to get token
	log.Printf("Logging in as %s...", *username)
	auth, err := login(*apiAddr, *username)
	if err != nil {
		log.Fatal("Login failed:", err)
	}
	log.Printf("Login successful. Token: %s...", auth.Token[:10])

	// 2. Connect to WebSocket with token
	u := url.URL{Scheme: "ws", Host: *serverAddr, Path: "/ws"}
	q := u.Query()
	q.Set("token", auth.Token)
	u.RawQuery = q.Encode()
	log.Printf("connecting to %s", u.Host)

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer c.Close()

	done := make(chan struct{})

	// 3. Start goroutine to read pushed events
	go func() {
		defer close(done)
		for {
			_, message, err := c.ReadMessage()
			if err != nil {
				log.Println("read:", err)
				return
			}

			var frame pushFrame
			if err := json.Unmarshal(message, &frame); err != nil {
				fmt.Printf("\r%s\n> ", message)
				continue
			}

			switch frame.Type {
			case "new_message":
				if frame.Message != nil {
					fmt.Printf("\r%s: %s\n> ", frame.Message.SenderID, frame.Message.Content)
				}
			case "message_deleted":
				fmt.Printf("\r(message %s deleted)\n> ", frame.MessageID)
			default:
				fmt.Printf("\r%s\n> ", message)
			}
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	quit := make(chan struct{})

	// 4. Read from stdin; lines go to the conversation over HTTP
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Print("> ")
		for scanner.Scan() {
			text := scanner.Text()
			if text == "" {
				fmt.Print("> ")
				continue
			}

			if text == "/quit" {
				close(quit)
				break
			}

			if text == "/ping" {
				if err := c.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
					log.Println("write:", err)
					break
				}
				fmt.Print("> ")
				continue
			}

			if *conversationID == "" {
				fmt.Print("no -conv set, message dropped\n> ")
				continue
			}
			if err := sendMessage(*apiAddr, auth.Token, *conversationID, text); err != nil {
				log.Println("send:", err)
			}
			fmt.Print("> ")
		}
	}()

	select {
	case <-done:
		return
	case <-interrupt:
	case <-quit:
	}
	log.Println("closing")

	// Cleanly close the connection by sending a close message and then
	// waiting (with timeout) for the server to close the connection.
	err = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		log.Println("write close:", err)
		return
	}
	select {
	case <-done:
	case <-time.After(time.Second):
	}
}
