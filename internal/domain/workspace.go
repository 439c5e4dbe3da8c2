package domain

import (
	"errors"
	"strings"
)

// Workspace is the connection context for a remote control-plane workspace.
type Workspace struct {
	Name           string
	Region         string
	SubscriptionID string
	ResourceGroup  string
	Endpoint       string
}

func (w Workspace) Validate() error {
	if strings.TrimSpace(w.Name) == "" {
		return errors.New("workspace name is required")
	}
	if strings.TrimSpace(w.SubscriptionID) == "" {
		return errors.New("subscription id is required")
	}
	if strings.TrimSpace(w.ResourceGroup) == "" {
		return errors.New("resource group is required")
	}
	return nil
}

// Dataset is a named, versioned data asset registered in a workspace.
type Dataset struct {
	ID         string
	Name       string
	Version    int64
	StorageURI string
}

func (d Dataset) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return errors.New("dataset id is required")
	}
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("dataset name is required")
	}
	return nil
}

// Environment describes the dependencies and base image a step runs with.
type Environment struct {
	ID      string
	Name    string
	Version string
	Image   string
}

func (e Environment) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return errors.New("environment name is required")
	}
	return nil
}

const ComputeStateSucceeded = "succeeded"

// ComputeTarget is a provisioned cluster that remote steps are scheduled on.
type ComputeTarget struct {
	Name  string
	Kind  string
	State string
}

func (c ComputeTarget) Provisioned() bool {
	return strings.EqualFold(strings.TrimSpace(c.State), ComputeStateSucceeded)
}
