// Package main provides a speech plugin. On macOS it speaks through the
// say command; elsewhere it renders WAV audio with espeak-ng or espeak
// and returns it to the caller for playback.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

// Request represents the input from the plugin executor.
type Request struct {
	Action string `json:"action"`
	Text   string `json:"text"`
	Voice  string `json:"voice"`
}

// Response represents the output to the plugin executor.
type Response struct {
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	Audio    []byte `json:"audio,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// speechCommand describes how to run the local speech engine.
type speechCommand struct {
	Path string
	Args []string
	// ReturnsAudio is set when stdout carries WAV data.
	ReturnsAudio bool
}

var lookPath = exec.LookPath

func main() {
	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeResponse(Response{Error: fmt.Sprintf("failed to decode request: %v", err)})
		return
	}
	writeResponse(handle(req))
}

func handle(req Request) Response {
	if req.Action != "speak" {
		return Response{Error: fmt.Sprintf("unknown action: %s", req.Action)}
	}
	if req.Text == "" {
		return Response{Error: "text is required"}
	}

	cmd, err := buildCommand(runtime.GOOS, req.Text, req.Voice)
	if err != nil {
		return Response{Error: err.Error()}
	}

	out, err := exec.Command(cmd.Path, cmd.Args...).Output()
	if err != nil {
		return Response{Error: fmt.Sprintf("%s failed: %v", cmd.Path, err)}
	}
	if cmd.ReturnsAudio {
		return Response{Success: true, Audio: out, MimeType: "audio/wav"}
	}
	return Response{Success: true}
}

// buildCommand picks the speech engine for goos.
func buildCommand(goos, text, voice string) (speechCommand, error) {
	if goos == "darwin" {
		path, err := lookPath("say")
		if err != nil {
			return speechCommand{}, errors.New("say not found")
		}
		args := []string{}
		if voice != "" {
			args = append(args, "-v", voice)
		}
		return speechCommand{Path: path, Args: append(args, "--", text)}, nil
	}

	for _, name := range []string{"espeak-ng", "espeak"} {
		path, err := lookPath(name)
		if err != nil {
			continue
		}
		args := []string{"--stdout"}
		if voice != "" {
			args = append(args, "-v", voice)
		}
		return speechCommand{Path: path, Args: append(args, "--", text), ReturnsAudio: true}, nil
	}
	return speechCommand{}, errors.New("no speech engine found (install espeak-ng)")
}

func writeResponse(resp Response) {
	json.NewEncoder(os.Stdout).Encode(resp)
}
