package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if c.MTU != DefaultMTU {
		t.Fatalf("MTU = %d, want %d", c.MTU, DefaultMTU)
	}
	if c.MaxConnections != -1 {
		t.Fatalf("MaxConnections = %d, want -1", c.MaxConnections)
	}
	if !c.BroadcastingEnabled {
		t.Fatal("BroadcastingEnabled should default to true")
	}
}

func TestValidateRejectsMtuBelowFloor(t *testing.T) {
	c := &Config{MTU: 100, Timeout: 1, KeepAliveInterval: 1}
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error for an MTU below the wire floor")
	}
}

func TestValidateRejectsNegativeMaxConnections(t *testing.T) {
	c := &Config{MTU: DefaultMTU, MaxConnections: -2, Timeout: 1, KeepAliveInterval: 1}
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error for MaxConnections < -1")
	}
}

func TestValidateAcceptsUnlimitedConnections(t *testing.T) {
	c := &Config{MTU: DefaultMTU, MaxConnections: -1, Timeout: 1, KeepAliveInterval: 1}
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
