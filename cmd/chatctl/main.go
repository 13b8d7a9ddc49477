// chatctl is the operator CLI for internal/adminapi, grounded on the
// teacher's internal/commands.AddUser (flag-driven subcommand, a plain
// net/http client call against the admin API, plain-text result on
// stdout).
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	addr := flag.NewFlagSet("chatctl", flag.ExitOnError)
	adminAddr := addr.String("admin-addr", "localhost:8081", "address of the admin API")

	cmd := os.Args[1]
	if err := addr.Parse(os.Args[2:]); err != nil {
		os.Exit(1)
	}

	var err error
	switch cmd {
	case "rooms":
		err = listRooms(*adminAddr)
	case "create-room":
		err = createRoom(*adminAddr, addr.Args())
	case "users":
		err = listUsers(*adminAddr)
	case "disconnect":
		err = disconnectUser(*adminAddr, addr.Args())
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "chatctl:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: chatctl <command> [-admin-addr addr] [args]

commands:
  rooms                  list rooms
  create-room <name>      create a room
  users                   list online users
  disconnect <username>   force-disconnect every socket for a user`)
}

func listRooms(adminAddr string) error {
	body, err := get(adminAddr, "/admin/rooms")
	if err != nil {
		return err
	}
	fmt.Println(string(body))
	return nil
}

func listUsers(adminAddr string) error {
	body, err := get(adminAddr, "/admin/users")
	if err != nil {
		return err
	}
	fmt.Println(string(body))
	return nil
}

func createRoom(adminAddr string, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("create-room requires a room name")
	}
	payload, err := json.Marshal(map[string]string{"name": args[0]})
	if err != nil {
		return err
	}
	return post(adminAddr, "/admin/rooms", payload)
}

func disconnectUser(adminAddr string, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("disconnect requires a username")
	}
	payload, err := json.Marshal(map[string]string{"username": args[0]})
	if err != nil {
		return err
	}
	return post(adminAddr, "/admin/users/disconnect", payload)
}

func get(adminAddr, path string) ([]byte, error) {
	resp, err := http.Get("http://" + adminAddr + path)
	if err != nil {
		return nil, fmt.Errorf("failed to call admin API: %w. Is the server running?", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("admin API returned %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func post(adminAddr, path string, payload []byte) error {
	resp, err := http.Post("http://"+adminAddr+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to call admin API: %w. Is the server running?", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("admin API returned %d: %s", resp.StatusCode, string(body))
	}
	fmt.Println("ok")
	return nil
}
