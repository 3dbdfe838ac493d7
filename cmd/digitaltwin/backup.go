package main

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"digitaltwin/internal/config"
)

// Archive entry names. Restore maps each back to the path the config names.
const (
	entryConfig    = "config.json"
	entryDB        = "twin.db"
	entryProfile   = "profile"
	entryInterview = "interview-contexts.yaml"
)

// backupSet maps archive entry names to local files.
type backupSet map[string]string

func backupFiles(cfgPath string, cfg *config.Config) backupSet {
	set := backupSet{entryConfig: cfgPath}
	if cfg.Store.Enabled {
		set[entryDB] = cfg.Store.DBPath
		set[entryDB+"-wal"] = cfg.Store.DBPath + "-wal"
		set[entryDB+"-shm"] = cfg.Store.DBPath + "-shm"
	}
	if cfg.General.ProfilePath != "" {
		set[entryProfile+filepath.Ext(cfg.General.ProfilePath)] = cfg.General.ProfilePath
	}
	if cfg.Interview.ContextsFile != "" {
		set[entryInterview] = cfg.Interview.ContextsFile
	}
	return set
}

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the store, config and profile source",
		Long: `Creates a compressed .tar.gz archive with the SQLite store (chunks and
query log), the config file, the profile source and interview overrides.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := loadConfig()
			if err != nil {
				return err
			}

			if outputPath == "" {
				backupDir := filepath.Join(config.DefaultConfigDir(), "backups")
				if err := os.MkdirAll(backupDir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				outputPath = filepath.Join(backupDir, fmt.Sprintf("digitaltwin-backup-%s.tar.gz", time.Now().Format("20060102-150405")))
			}

			written, err := createTarGz(outputPath, backupFiles(cfgPath, cfg))
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			fmt.Printf("Backup created: %s\n", outputPath)
			for _, name := range written {
				fmt.Printf("  - %s\n", name)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file (default: ~/.digitaltwin/backups/digitaltwin-backup-<timestamp>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore [archive]",
		Short: "Restore data from a backup archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := loadConfig()
			if err != nil {
				return err
			}
			set := backupFiles(cfgPath, cfg)

			if !force {
				for _, p := range set {
					if _, err := os.Stat(p); err == nil {
						fmt.Printf("WARNING: %s exists and would be overwritten.\n", p)
						return errors.New("restore aborted (use --force to proceed)")
					}
				}
			}

			restored, err := extractTarGz(args[0], set)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}
			fmt.Printf("Restored %d file(s) from %s\n", len(restored), args[0])
			for _, f := range restored {
				fmt.Printf("  - %s\n", f)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	return cmd
}

// createTarGz archives every existing file of set and returns the entry names written.
func createTarGz(outputPath string, set backupSet) ([]string, error) {
	outFile, err := os.Create(outputPath)
	if err != nil {
		return nil, err
	}
	defer outFile.Close()

	gzWriter := gzip.NewWriter(outFile)
	defer gzWriter.Close()
	tarWriter := tar.NewWriter(gzWriter)
	defer tarWriter.Close()

	var written []string
	for name, path := range set {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := addFileToTar(tarWriter, name, path); err != nil {
			return nil, fmt.Errorf("add %s: %w", path, err)
		}
		written = append(written, name)
	}
	if len(written) == 0 {
		return nil, errors.New("nothing to back up")
	}
	return written, nil
}

func addFileToTar(tw *tar.Writer, name, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = name
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, file)
	return err
}

// extractTarGz writes every known entry of the archive to its path in set.
// Unknown entries are skipped.
func extractTarGz(archivePath string, set backupSet) ([]string, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("not a valid gzip file: %w", err)
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	var restored []string
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		target, ok := set[header.Name]
		if !ok {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, err
		}
		outFile, err := os.Create(target)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", target, err)
		}
		if _, err := io.Copy(outFile, tarReader); err != nil {
			outFile.Close()
			return nil, fmt.Errorf("extract %s: %w", target, err)
		}
		outFile.Close()
		restored = append(restored, target)
	}
	return restored, nil
}
