// Package mirroring sends finished dump files to configured mirror
// destinations.  Destinations are declared in a mirrorconfig.v1 document;
// each named mirror carries one push target, and a Pusher knows how to get
// a local file onto that target without re-sending what is already there.
package mirroring

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/ipld/go-ipld-prime"
	"github.com/ipld/go-ipld-prime/codec/json"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/icatools/icat/icatapi"
	"github.com/icatools/icat/pkg/logging"
	"github.com/icatools/icat/pkg/tracing"
)

const LOG_TAG = "│  mirror"

// Pusher sends local dump files to one mirror destination.
type Pusher interface {
	// Push sends one file.  Destinations that can be probed skip files
	// they already hold an object for under the same name.
	//
	// Errors:
	//
	//    - icat-error-io -- when the file cannot be read or the transfer fails
	Push(ctx context.Context, localPath string) error
}

// LoadConfig reads a mirror configuration document.
//
// Errors:
//
//    - icat-error-io -- for errors reading from fsys
//    - icat-error-serialization -- when the document does not parse
//    - icat-error-datatoonew -- if encountering data from a newer version
func LoadConfig(fsys fs.FS, filename string) (*icatapi.MirrorConfig, error) {
	const situation = "loading mirror configuration"
	name := strings.TrimPrefix(filename, "/")
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, icatapi.ErrorIo(situation, filename, err)
	}
	capsule := icatapi.MirrorConfigCapsule{}
	_, err = ipld.Unmarshal(data, json.Decode, &capsule, icatapi.TypeSystem.TypeByName("MirrorConfigCapsule"))
	if err != nil {
		return nil, icatapi.ErrorSerialization(situation, err)
	}
	if capsule.MirrorConfig == nil {
		// ... this isn't really reachable.
		return nil, icatapi.ErrorDataTooNew(situation, fmt.Errorf("no v1 MirrorConfig in MirrorConfigCapsule"))
	}
	return capsule.MirrorConfig, nil
}

// NewPusher builds the pusher for one configured push target.
//
// Errors:
//
//    - icat-error-io -- when the destination cannot be reached or
//        credentials cannot be loaded
func NewPusher(ctx context.Context, target icatapi.PushTarget) (Pusher, error) {
	switch {
	case target.S3 != nil:
		return newS3Pusher(ctx, *target.S3)
	case target.Mock != nil:
		return &MockPusher{}, nil
	}
	// unreachable: the capsule's union validation admits no other members
	panic("mirroring: no supported push target in configuration")
}

// PushDumps pushes dump files to the mirror named in the configuration.
// Files are sent in argument order; the first failure aborts the rest.
//
// Errors:
//
//    - icat-error-invalid -- when no mirror with that name is configured
//    - icat-error-io -- when a file is missing, the destination cannot be
//        reached, or a transfer fails
func PushDumps(ctx context.Context, cfg *icatapi.MirrorConfig, name icatapi.MirrorName, paths []string) error {
	ctx, span := tracing.Start(ctx, "mirror push", trace.WithAttributes(
		attribute.String(tracing.AttrKeyIcatMirrorName, string(name))))
	defer span.End()
	log := logging.Ctx(ctx)

	mirror, ok := cfg.Values[name]
	if !ok {
		return icatapi.ErrorInvalid(fmt.Sprintf("no mirror named %q configured", name))
	}
	p, err := NewPusher(ctx, mirror.Push)
	if err != nil {
		return err
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			return icatapi.ErrorIo("reading a dump file", path, err)
		}
		log.Info(LOG_TAG, "pushing %s to mirror %s", path, name)
		if err := p.Push(ctx, path); err != nil {
			return err
		}
	}
	return nil
}
