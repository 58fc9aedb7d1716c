package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "put <key> <value>",
		Aliases: []string{"set"},
		Short:   "Write key=value",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			if err := s.Put(args[0], args[1]); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Read the value for key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			res, err := s.Get(args[0])
			if err != nil {
				return err
			}
			if !res.Found {
				fmt.Println("(not found)")
				return nil
			}
			fmt.Println(res.Value)
			return nil
		},
	}
}

func newDelCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "del <key>",
		Aliases: []string{"delete"},
		Short:   "Delete key",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			if err := s.Delete(args[0]); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func newFlushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Flush the active memtable to an L0 run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			meta, err := s.Flush()
			if err != nil {
				return err
			}
			fmt.Printf("flushed run %d (%d entries) to level %d\n", meta.SSTableID, meta.NumEntries, meta.Level)
			return nil
		},
	}
}

func newCompactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compact",
		Short: "Run a full compaction across every level",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			meta, err := s.Compact()
			if err != nil {
				return err
			}
			fmt.Printf("compacted into run %d (%d entries) at level %d\n", meta.SSTableID, meta.NumEntries, meta.Level)
			return nil
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print memtable and level population",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			st := s.Stats()
			fmt.Printf("active memtable:    %d entries (full=%v)\n", st.ActiveMemtableEntries, st.ActiveMemtableFull)
			fmt.Printf("immutable queue:    %d/%d (full=%v)\n", st.ImmutableQueueDepth, st.MaxImmutableMemtables, st.ImmutableQueueFull)
			fmt.Printf("immutable memory:   %d/%d bytes\n", st.ImmutableMemoryBytes, st.ImmutableMemoryLimitBytes)
			fmt.Printf("rotations:          %d\n", st.TotalMemtableRotations)
			fmt.Printf("async flushes:      %d\n", st.TotalAsyncFlushes)
			fmt.Printf("sstables:           %d (%d bytes)\n", st.NumSSTables, st.TotalSSTableSizeBytes)
			for _, l := range st.Levels {
				fmt.Printf("L%d: %d runs, %d entries, %d bytes\n", l.Level, l.NumRuns, l.NumEntries, l.Bytes)
			}
			return nil
		},
	}
}
