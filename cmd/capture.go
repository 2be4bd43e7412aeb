package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ocampo/fieldsync/internal/db"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture work locally for later synchronization",
	Long: `Capture stores records, attendance marks, and evidence files in the local
database. Capture never touches the network; items are queued and delivered
by the next sync cycle.`,
}

var captureRecordCmd = &cobra.Command{
	Use:   "record [payload.json]",
	Short: "Capture a maintenance record",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := readPayload(args)
		if err != nil {
			return err
		}

		database, err := db.Open(getBaseDir())
		if err != nil {
			return err
		}
		defer database.Close()

		id, err := database.CaptureRecord(payload)
		if err != nil {
			return fmt.Errorf("capture record: %w", err)
		}
		fmt.Printf("Captured record %s\n", id)
		return nil
	},
}

var captureAttendanceCmd = &cobra.Command{
	Use:   "attendance [payload.json]",
	Short: "Capture a crew attendance mark",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, err := readPayload(args)
		if err != nil {
			return err
		}

		database, err := db.Open(getBaseDir())
		if err != nil {
			return err
		}
		defer database.Close()

		id, err := database.CaptureAttendance(payload)
		if err != nil {
			return fmt.Errorf("capture attendance: %w", err)
		}
		fmt.Printf("Captured attendance %s\n", id)
		return nil
	},
}

var captureEvidenceCmd = &cobra.Command{
	Use:   "evidence",
	Short: "Capture an evidence file for a record",
	RunE: func(cmd *cobra.Command, args []string) error {
		recordID, _ := cmd.Flags().GetString("record")
		file, _ := cmd.Flags().GetString("file")
		metaStr, _ := cmd.Flags().GetString("meta")

		if recordID == "" || file == "" {
			return fmt.Errorf("--record and --file are required")
		}

		absPath, err := filepath.Abs(file)
		if err != nil {
			return fmt.Errorf("resolve path: %w", err)
		}
		if _, err := os.Stat(absPath); err != nil {
			return fmt.Errorf("evidence file: %w", err)
		}

		var meta json.RawMessage
		if metaStr != "" {
			if !json.Valid([]byte(metaStr)) {
				return fmt.Errorf("--meta must be valid JSON")
			}
			meta = json.RawMessage(metaStr)
		}

		database, err := db.Open(getBaseDir())
		if err != nil {
			return err
		}
		defer database.Close()

		id, err := database.CaptureAttachment(recordID, absPath, meta)
		if err != nil {
			return fmt.Errorf("capture evidence: %w", err)
		}
		fmt.Printf("Captured evidence %s for record %s\n", id, recordID)
		return nil
	},
}

// readPayload reads JSON from the named file or stdin.
func readPayload(args []string) (json.RawMessage, error) {
	var data []byte
	var err error
	if len(args) == 1 && args[0] != "-" {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return json.RawMessage(data), nil
}

func init() {
	captureEvidenceCmd.Flags().String("record", "", "owning record ID")
	captureEvidenceCmd.Flags().String("file", "", "path to the evidence file")
	captureEvidenceCmd.Flags().String("meta", "", "JSON metadata (GPS, captured_at, signature)")
	captureCmd.AddCommand(captureRecordCmd, captureAttendanceCmd, captureEvidenceCmd)
	rootCmd.AddCommand(captureCmd)
}
