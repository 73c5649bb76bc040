package config

import (
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/btdebug/internal/apperr"
)

// schemaSource constrains a merged Config. Durations arrive as
// nanosecond integers.
const schemaSource = `
#Config: {
	database:            string
	driver:              "sqlite3" | "sqlite"
	runtime_dir:         string & !=""
	instance_name:       =~"^[A-Za-z0-9][A-Za-z0-9._-]*$"
	debounce:            int & >0
	shutdown_timeout:    int & >0
	open_retries:        int & >=1 & <=100
	open_retry_delay:    int & >=0
	cleanup_attempts:    int & >=1 & <=100
	cleanup_delay:       int & >=0
	flush_interval:      int & >0
	batch_size:          int & >=1 & <=100000
	log_level:           "debug" | "info" | "warn" | "error"
	exit_on_stdin_close: bool
}
`

var (
	schemaOnce sync.Once
	cueCtx     *cue.Context
	schema     cue.Value
)

func configSchema() (*cue.Context, cue.Value) {
	schemaOnce.Do(func() {
		cueCtx = cuecontext.New()
		schema = cueCtx.CompileString(schemaSource).LookupPath(cue.ParsePath("#Config"))
	})
	return cueCtx, schema
}

// Validate checks c against the schema and reports every violation.
func (c Config) Validate() error {
	ctx, def := configSchema()
	if err := def.Err(); err != nil {
		return apperr.Wrap(apperr.CodeInternal, "config schema", err)
	}

	v := def.Unify(ctx.Encode(c))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		var msgs []string
		for _, e := range cueerrors.Errors(err) {
			msgs = append(msgs, formatCUEError(e))
		}
		return apperr.InvalidArgument("invalid configuration: %s", strings.Join(msgs, "; "))
	}
	return nil
}

func formatCUEError(e cueerrors.Error) string {
	format, args := e.Msg()
	msg := fmt.Sprintf(format, args...)
	if path := e.Path(); len(path) > 0 {
		return strings.Join(path, ".") + ": " + msg
	}
	return msg
}
