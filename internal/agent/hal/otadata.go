package hal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// BankState mirrors the image states kept by the bootloader's otadata partition.
type BankState string

const (
	BankUndefined     BankState = "undefined"
	BankNew           BankState = "new"
	BankPendingVerify BankState = "pending_verify"
	BankValid         BankState = "valid"
	BankInvalid       BankState = "invalid"
	BankAborted       BankState = "aborted"
)

const otadataFile = "otadata.toml"

type BankInfo struct {
	State BankState `toml:"state"`
	Size  int64     `toml:"size"`
	// Seq increases with every image written to any bank.
	Seq uint32 `toml:"seq"`
}

// BootRecord selects the bank to boot and tracks the state of both banks.
type BootRecord struct {
	Boot  int        `toml:"boot"`
	Banks []BankInfo `toml:"banks"`
}

func factoryRecord() BootRecord {
	return BootRecord{
		Boot: 0,
		Banks: []BankInfo{
			{State: BankValid},
			{State: BankUndefined},
		},
	}
}

func (r BootRecord) other() int {
	return 1 - r.Boot
}

func (r BootRecord) nextSeq() uint32 {
	return max(r.Banks[0].Seq, r.Banks[1].Seq) + 1
}

func (r BootRecord) validate() error {
	if len(r.Banks) != 2 {
		return fmt.Errorf("boot record has %d banks, want 2", len(r.Banks))
	}
	if r.Boot != 0 && r.Boot != 1 {
		return fmt.Errorf("boot record selects bank %d", r.Boot)
	}
	return nil
}

// LoadBootRecord reads the boot record in dir without applying boot-time transitions.
func LoadBootRecord(dir string) (BootRecord, error) {
	data, err := os.ReadFile(filepath.Join(dir, otadataFile))
	if err != nil {
		return BootRecord{}, err
	}

	var rec BootRecord
	if err := toml.Unmarshal(data, &rec); err != nil {
		return BootRecord{}, fmt.Errorf("decode %s: %w", otadataFile, err)
	}
	if err := rec.validate(); err != nil {
		return BootRecord{}, err
	}
	return rec, nil
}

func loadOrInitBootRecord(dir string) (BootRecord, error) {
	rec, err := LoadBootRecord(dir)
	if errors.Is(err, os.ErrNotExist) {
		return factoryRecord(), nil
	}
	return rec, err
}

func saveBootRecord(dir string, rec BootRecord) error {
	data, err := toml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s: %w", otadataFile, err)
	}
	return writeFileAtomic(filepath.Join(dir, otadataFile), data, 0o644)
}

// writeFileAtomic replaces path with data once it is on disk.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), perm); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	return syncDir(filepath.Dir(path))
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
