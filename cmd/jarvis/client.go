package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/jarvishq/jarvis/internal/config"
	"github.com/jarvishq/jarvis/internal/task"
)

// apiClient talks to a running supervisor over its local HTTP API.
type apiClient struct {
	base   string
	client *http.Client
}

func newAPIClient(env *config.Env) *apiClient {
	return &apiClient{
		base:   "http://" + net.JoinHostPort(env.HTTPHost, env.HTTPPort),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *apiClient) do(method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("is the supervisor running? %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type statusView struct {
	Gateway struct {
		State  string `json:"state"`
		Reason string `json:"reason"`
	} `json:"gateway"`
	Paused      bool           `json:"paused"`
	PauseReason string         `json:"pauseReason"`
	BusyAgents  []string       `json:"busyAgents"`
	TaskCounts  map[string]int `json:"taskCounts"`
}

func (c *apiClient) status() error {
	var status statusView
	if err := c.do(http.MethodGet, "/api/status", nil, &status); err != nil {
		return err
	}
	renderStatus(os.Stdout, &status)
	return nil
}

func renderStatus(w io.Writer, status *statusView) {
	state := color.RedString(status.Gateway.State)
	switch status.Gateway.State {
	case "connected":
		state = color.GreenString(status.Gateway.State)
	case "connecting":
		state = color.YellowString(status.Gateway.State)
	}
	fmt.Fprintf(w, "Gateway:  %s", state)
	if status.Gateway.Reason != "" {
		fmt.Fprintf(w, " (%s)", status.Gateway.Reason)
	}
	fmt.Fprintln(w)
	if status.Paused {
		fmt.Fprintf(w, "Paused:   %s (%s)\n", color.YellowString("yes"), status.PauseReason)
	} else {
		fmt.Fprintln(w, "Paused:   no")
	}
	fmt.Fprintf(w, "Busy:     %v\n", status.BusyAgents)
	fmt.Fprintf(w, "Tasks:    %v\n", status.TaskCounts)
}

func (c *apiClient) resume() error {
	if err := c.do(http.MethodPost, "/api/execution/resume", struct{}{}, nil); err != nil {
		return err
	}
	fmt.Println("Execution resumed")
	return nil
}

func (c *apiClient) createTask(title, description, priority, agentID, projectID string) error {
	var created task.Task
	err := c.do(http.MethodPost, "/api/tasks", map[string]any{
		"title":           title,
		"description":     description,
		"priority":        priority,
		"assignedAgentId": agentID,
		"projectId":       projectID,
	}, &created)
	if err != nil {
		return err
	}
	fmt.Printf("Created task %s\n", created.ID)
	return nil
}

func (c *apiClient) listTasks(status string) error {
	path := "/api/tasks"
	if status != "" {
		path += "?status=" + status
	}
	var tasks []*task.Task
	if err := c.do(http.MethodGet, path, nil, &tasks); err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks")
		return nil
	}
	for _, t := range tasks {
		agent := t.AssignedAgentID
		if agent == "" {
			agent = "-"
		}
		fmt.Printf("%s  %-10s  %-6s  %-10s  %s\n", t.ID, t.Status, t.Priority, agent, t.Title)
	}
	return nil
}

func (c *apiClient) moveTask(id, status string) error {
	var moved task.Task
	err := c.do(http.MethodPost, "/api/tasks/"+id+"/move", map[string]string{"status": status}, &moved)
	if err != nil {
		return err
	}
	fmt.Printf("Task %s is now %s\n", moved.ID, moved.Status)
	return nil
}
