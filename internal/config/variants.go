package config

import (
	_ "github.com/any-hub/peg-hub/internal/variant/reset"
	_ "github.com/any-hub/peg-hub/internal/variant/shell"
	_ "github.com/any-hub/peg-hub/internal/variant/swr"
)
