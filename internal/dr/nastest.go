package dr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// NASTest exercises the share path end to end: probe and mount, write a
// scratch file, read it back, delete it, unmount. It is the operator's
// answer to "is off-site replication actually going to work tonight".
func (p *Pipeline) NASTest(ctx context.Context, rep *Report) error {
	if p.mounts == nil {
		err := errors.New("no network share configured")
		rep.Failed("mount", err)
		return err
	}
	if err := p.mounts.Acquire(ctx); err != nil {
		rep.Failed("mount", err)
		return err
	}
	defer func() {
		if err := p.mounts.Release(); err != nil {
			p.logger.Warn("unmount failed", "error", err)
		}
	}()
	rep.Ok("mount", p.mounts.Path())

	var nas ArtifactStore
	for _, t := range p.replicas {
		if t.Tier() == TierNAS {
			nas = t
			break
		}
	}
	if nas == nil {
		err := errors.New("share mounted but no replica store is configured for it")
		rep.Failed("write", err)
		return err
	}

	name := fmt.Sprintf(".pgdr_health_%s", p.idgen.New())
	content := []byte(fmt.Sprintf("health check %s\n", p.clock.Now().UTC().Format(time.RFC3339)))

	if err := nas.Put(name, bytes.NewReader(content), int64(len(content))); err != nil {
		rep.Failed("write", err)
		return err
	}
	rep.Ok("write", name)

	r, _, err := nas.Open(name)
	if err != nil {
		rep.Failed("read", err)
		return err
	}
	got, err := io.ReadAll(r)
	r.Close()
	if err != nil {
		rep.Failed("read", err)
		return err
	}
	if !bytes.Equal(got, content) {
		err := errors.New("share read back different bytes than written")
		rep.Failed("read", err)
		return err
	}
	rep.Ok("read", "")

	if err := nas.Delete(name); err != nil {
		p.logger.Warn("health check file left behind", "name", name, "error", err)
		rep.Degraded("delete", err.Error())
		return nil
	}
	rep.Ok("delete", "")
	return nil
}
