package dr

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Restore loads a full backup into a live database. artifactName empty
// means the newest full backup. An existing database is never touched
// unless dropExisting is set.
func (p *Pipeline) Restore(ctx context.Context, rep *Report, artifactName, dbname string, dropExisting bool) error {
	arts, err := p.localArtifacts()
	if err != nil {
		rep.Failed("scan-local", err)
		return err
	}

	var target Artifact
	if artifactName == "" {
		a, ok := LatestFull(arts)
		if !ok {
			rep.Failed("select", ErrNoFullBackup)
			return ErrNoFullBackup
		}
		target = a
	} else {
		found := false
		for _, a := range arts {
			if a.Name == artifactName {
				target, found = a, true
				break
			}
		}
		if !found {
			err := fmt.Errorf("artifact %s not found in local store", artifactName)
			rep.Failed("select", err)
			return err
		}
		if target.Class != ClassFull {
			err := fmt.Errorf("%s is a %s artifact; only full backups restore directly", target.Name, target.Class)
			rep.Failed("select", err)
			return err
		}
	}
	rep.Ok("select", target.Name)

	if _, err := p.verifyChecksum(target); err != nil {
		rep.Failed("checksum", err)
		return err
	}
	rep.Ok("checksum", "")

	path := p.local.FullPath(target.Name)
	if target.Encrypted {
		if p.dec == nil {
			err := fmt.Errorf("artifact %s is encrypted and no decryption identity is configured", target.Name)
			rep.Failed("decrypt", err)
			return err
		}
		tmp := p.local.TempPath(strings.TrimSuffix(target.Name, EncryptedSuffix))
		defer os.Remove(tmp)
		if err := decryptFile(p.dec, path, tmp); err != nil {
			rep.Failed("decrypt", err)
			return err
		}
		path = tmp
		rep.Ok("decrypt", "")
	}

	if err := p.admin.WaitReady(ctx, p.settings.WaitReadyTimeout); err != nil {
		rep.Failed("engine-ready", err)
		return err
	}
	rep.Ok("engine-ready", "")

	exists, err := p.admin.DatabaseExists(ctx, dbname)
	if err != nil {
		rep.Failed("restore", err)
		return err
	}
	if exists {
		if !dropExisting {
			err := fmt.Errorf("database %q already exists, pass --drop-existing to replace it", dbname)
			rep.Failed("restore", err)
			return err
		}
		p.logger.Warn("dropping existing database before restore", "database", dbname)
		if err := p.admin.DropDatabase(ctx, dbname); err != nil {
			rep.Failed("restore", err)
			return err
		}
	}
	if err := p.admin.CreateDatabase(ctx, dbname); err != nil {
		rep.Failed("restore", err)
		return err
	}
	if err := p.restorer.RestoreInto(ctx, dbname, path); err != nil {
		p.logger.Error("restore failed, partial database left for inspection", "database", dbname, "error", err)
		rep.Failed("restore", err)
		return err
	}
	p.logger.Info("restored backup", "artifact", target.Name, "database", dbname)
	rep.Ok("restore", fmt.Sprintf("%s into %s", target.Name, dbname))
	return nil
}
