package app

import (
	"io"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		args []string
		want Command
	}{
		{nil, CommandServe},
		{[]string{"serve"}, CommandServe},
		{[]string{"walk"}, CommandWalk},
		{[]string{"detail"}, CommandDetail},
		{[]string{"run"}, CommandRun},
		{[]string{"reclaim"}, CommandReclaim},
		{[]string{"archive"}, CommandArchive},
		{[]string{"export", "-o", "out.csv"}, CommandExport},
		{[]string{"migrate"}, CommandMigrate},
		{[]string{"healthcheck"}, CommandHealthcheck},
		{[]string{"unknown"}, CommandServe},
	}

	for _, tt := range tests {
		if got := ParseCommand(tt.args); got != tt.want {
			t.Errorf("ParseCommand(%v) = %q, want %q", tt.args, got, tt.want)
		}
	}
}

func TestParseOptions_Export(t *testing.T) {
	opts, err := ParseOptions(CommandExport, []string{"export", "-o", "out.csv", "-no-bom"}, io.Discard)
	if err != nil {
		t.Fatalf("ParseOptions failed: %v", err)
	}
	if opts.Output != "out.csv" {
		t.Errorf("Output = %q, want out.csv", opts.Output)
	}
	if !opts.NoBOM {
		t.Error("NoBOM should be true")
	}
}

func TestParseOptions_WalkLoop(t *testing.T) {
	opts, err := ParseOptions(CommandWalk, []string{"walk", "-loop"}, io.Discard)
	if err != nil {
		t.Fatalf("ParseOptions failed: %v", err)
	}
	if !opts.Loop {
		t.Error("Loop should be true")
	}
}

func TestParseOptions_RejectsUnknownFlag(t *testing.T) {
	if _, err := ParseOptions(CommandMigrate, []string{"migrate", "-o", "x"}, io.Discard); err == nil {
		t.Error("expected error for flag not defined on migrate")
	}
}

func TestParseOptions_RejectsExtraArgs(t *testing.T) {
	if _, err := ParseOptions(CommandExport, []string{"export", "extra"}, io.Discard); err == nil {
		t.Error("expected error for positional argument")
	}
}

func TestParseOptions_DefaultCommandWithoutArgs(t *testing.T) {
	opts, err := ParseOptions(CommandServe, nil, io.Discard)
	if err != nil {
		t.Fatalf("ParseOptions failed: %v", err)
	}
	if opts != (Options{}) {
		t.Errorf("opts = %+v, want zero", opts)
	}
}
