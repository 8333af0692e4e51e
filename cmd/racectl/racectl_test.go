package main

import (
	"context"
	"strings"
	"testing"
)

func TestEnqueueRejectsIncompleteArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		org     string
		event   string
		wantErr string
	}{
		{name: "nothing to do", wantErr: "nothing to enqueue"},
		{name: "files without event", args: []string{"a.jpg"}, org: "org1", wantErr: "--organizer and --event"},
		{name: "files without organizer", args: []string{"a.jpg"}, event: "race5k", wantErr: "--organizer and --event"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enqueueOpts.organizer, enqueueOpts.event, enqueueOpts.keys = tt.org, tt.event, nil
			enqueueCmd.SetContext(context.Background())

			err := runEnqueue(enqueueCmd, tt.args)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestReconcileRequiresBothScopeFlags(t *testing.T) {
	reconcileOpts.organizer, reconcileOpts.event = "org1", ""
	defer func() { reconcileOpts.organizer = "" }()

	if err := runReconcile(reconcileCmd, nil); err == nil {
		t.Fatal("expected error when --event is missing")
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := map[string]bool{"migrate": false, "enqueue": false, "reconcile": false, "dlq": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("command %q not registered", name)
		}
	}
}
