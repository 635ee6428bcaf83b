package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/calder-ai/modelgate/internal/cli"
	"github.com/calder-ai/modelgate/internal/store/model"
	"github.com/calder-ai/modelgate/internal/store/sqlite"
)

// quantPattern matches the quantization suffix of a gguf filename,
// e.g. llama-3.2-3b-instruct-Q4_K_M.gguf.
var quantPattern = regexp.MustCompile(`(?i)(IQ\d+_[A-Z0-9_]+|Q\d+_K_[SML]|Q\d+_K|Q\d+_\d+|F16|F32|BF16)$`)

func main() {
	modelsDir := flag.String("models", "models", "Directory to scan for .gguf files")
	dbPath := flag.String("db", "modelgate.db", "Path to the gateway database")
	withHash := flag.Bool("hash", false, "Compute sha256 of each file (slow for large models)")
	flag.Parse()

	repo, err := sqlite.NewSQLiteStorage(*dbPath)
	if err != nil {
		log.Fatal(err)
	}
	defer repo.Close()

	ctx := context.Background()

	count := 0
	err = filepath.WalkDir(*modelsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".gguf") {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}

		modelID, quant := splitModelName(d.Name())

		entry := &model.Download{
			ID:           uuid.New().String(),
			Model:        modelID,
			Quantization: quant,
			Path:         abs,
			SizeBytes:    info.Size(),
			CreatedAt:    time.Now().UTC(),
		}

		if *withHash {
			sum, err := fileSHA256(abs)
			if err != nil {
				return err
			}
			entry.SHA256 = sum
		}

		if err := repo.Downloads().Put(ctx, entry); err != nil {
			return err
		}

		fmt.Printf("%s %s (%s, %.1f GB)\n", cli.CheckMark(), modelID, quant, float64(info.Size())/1e9)
		count++
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	if count == 0 {
		fmt.Printf("%s no .gguf files found under %s\n", cli.WarningSign(), *modelsDir)
		return
	}
	fmt.Printf("\nRegistered %d model file(s) in %s\n", count, *dbPath)
}

// splitModelName derives the manifest key from a gguf filename. The
// quantization is the recognised suffix; everything before it is the
// model ID.
func splitModelName(filename string) (modelID, quant string) {
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))

	if m := quantPattern.FindString(stem); m != "" {
		modelID = strings.TrimRight(stem[:len(stem)-len(m)], "-._")
		return modelID, strings.ToUpper(m)
	}
	return stem, ""
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
