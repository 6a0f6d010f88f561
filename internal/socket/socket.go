// Package socket implements the control socket of the daemon: a unix
// socket under XDG_RUNTIME_DIR carrying one JSON request and one JSON
// response per connection.
package socket

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
)

// Command names understood by the daemon.
const (
	CommandReload = "reload"
	CommandStatus = "status"
)

// Request is one control command sent to the daemon.
type Request struct {
	Command string `json:"command"`
}

// SurfaceStatus describes one live surface in a status response.
type SurfaceStatus struct {
	Output     string `json:"output"`
	Width      uint32 `json:"width"`
	Height     uint32 `json:"height"`
	Scale      int32  `json:"scale"`
	Configured bool   `json:"configured"`
	Wallpaper  string `json:"wallpaper"`
	Mode       string `json:"mode"`
}

// Response is the daemon's answer to a Request.
type Response struct {
	OK       bool            `json:"ok"`
	Error    string          `json:"error,omitempty"`
	Surfaces []SurfaceStatus `json:"surfaces,omitempty"`
}

func Path(name string) (string, error) {
	if name == "" {
		return "", errors.New("no socket name passed")
	}

	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = "/tmp"
	}

	return dir + "/" + name + ".sock", nil
}

// Clear forcefully removes a stale socket from the path.
func Clear(name string) error {
	path, err := Path(name)
	if err != nil {
		return err
	}

	err = os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("os.Remove: %w", err)
	}
	return nil
}

// Invoke sends one request to a running daemon and returns its response.
func Invoke(socketName string, req *Request) (*Response, error) {
	path, err := Path(socketName)
	if err != nil {
		return nil, err
	}

	c, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("net.Dial: %w", err)
	}
	defer c.Close()

	err = json.NewEncoder(c).Encode(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	resp := new(Response)
	err = json.NewDecoder(c).Decode(resp)
	if err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	return resp, nil
}
