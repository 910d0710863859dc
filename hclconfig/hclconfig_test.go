package hclconfig_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/centraunit/inject"
	"github.com/centraunit/inject/hclconfig"
	"github.com/centraunit/inject/mock"
)

const appConfig = `
constant "dsn" {
  value = "postgres://localhost/app"
}

constant "workers" {
  value = 4
}

constant "ratio" {
  value = 0.5
}

constant "timeout" {
  type  = "duration"
  value = "5s"
}

constant "max_conns" {
  type  = "int64"
  value = 20
}

constant "hosts" {
  value = ["db-1", "db-2"]
}

constant "labels" {
  value = {
    region = "eu-west-1"
  }
}

constant "debug" {
  value = true
}

bind "Database" {
  to = "MockDB"
}

bind "MockDB" {
  scope = "eager"
}
`

var types = hclconfig.Types{
	"Database": inject.KeyOf[mock.Database](),
	"MockDB":   inject.KeyOf[*mock.MockDB](),
	"Cache":    inject.KeyOf[mock.Cache](),
	"Repo":     inject.KeyOf[*Repo](),
}

type Repo struct {
	DSN string `inject:"name=dsn"`
}

type HCLTestSuite struct {
	suite.Suite
	ctx context.Context
}

func (s *HCLTestSuite) SetupTest() {
	s.ctx = context.Background()
}

func (s *HCLTestSuite) TestConstants() {
	inj, err := inject.New(hclconfig.NewModule(types).WithSource("app.hcl", []byte(appConfig)))
	s.Require().NoError(err)

	dsn, err := inject.Get[string](s.ctx, inj, inject.Named("dsn"))
	s.NoError(err)
	s.Equal("postgres://localhost/app", dsn)

	workers, err := inject.Get[int](s.ctx, inj, inject.Named("workers"))
	s.NoError(err)
	s.Equal(4, workers)

	ratio, err := inject.Get[float64](s.ctx, inj, inject.Named("ratio"))
	s.NoError(err)
	s.Equal(0.5, ratio)

	timeout, err := inject.Get[time.Duration](s.ctx, inj, inject.Named("timeout"))
	s.NoError(err)
	s.Equal(5*time.Second, timeout)

	maxConns, err := inject.Get[int64](s.ctx, inj, inject.Named("max_conns"))
	s.NoError(err)
	s.Equal(int64(20), maxConns)

	hosts, err := inject.Get[[]string](s.ctx, inj, inject.Named("hosts"))
	s.NoError(err)
	s.Equal([]string{"db-1", "db-2"}, hosts)

	labels, err := inject.Get[map[string]string](s.ctx, inj, inject.Named("labels"))
	s.NoError(err)
	s.Equal(map[string]string{"region": "eu-west-1"}, labels)

	debug, err := inject.Get[bool](s.ctx, inj, inject.Named("debug"))
	s.NoError(err)
	s.True(debug)

	repo, err := inject.Get[*Repo](s.ctx, inj)
	s.NoError(err)
	s.Equal(dsn, repo.DSN)
}

func (s *HCLTestSuite) TestBindings() {
	inj, err := inject.New(hclconfig.NewModule(types).WithSource("app.hcl", []byte(appConfig)))
	s.Require().NoError(err)

	mockDB := inj.GetExistingBinding(inject.KeyOf[*mock.MockDB]())
	s.Require().NotNil(mockDB)
	s.Contains(mockDB.Source().String(), "app.hcl:")

	db1, err := inject.Get[mock.Database](s.ctx, inj)
	s.Require().NoError(err)
	db2, err := inject.Get[mock.Database](s.ctx, inj)
	s.Require().NoError(err)
	s.Same(db1, db2)
	s.True(db1.(*mock.MockDB).IsConnected())
}

func (s *HCLTestSuite) TestFiles() {
	dir := s.T().TempDir()
	constants := filepath.Join(dir, "constants.hcl")
	bindings := filepath.Join(dir, "bindings.hcl")
	s.Require().NoError(os.WriteFile(constants, []byte("constant \"dsn\" {\n  value = \"postgres://file\"\n}\n"), 0o600))
	s.Require().NoError(os.WriteFile(bindings, []byte("bind \"Repo\" {\n  scope = \"singleton\"\n}\n"), 0o600))

	inj, err := inject.New(hclconfig.NewModule(types, constants, bindings))
	s.Require().NoError(err)

	r1, err := inject.Get[*Repo](s.ctx, inj)
	s.Require().NoError(err)
	r2, err := inject.Get[*Repo](s.ctx, inj)
	s.Require().NoError(err)
	s.Same(r1, r2)
	s.Equal("postgres://file", r1.DSN)
}

func (s *HCLTestSuite) TestCustomScope() {
	batch := inject.NewContextScope("BatchScope")
	src := `
bind "Repo" {
  scope = "batch"
}

constant "dsn" {
  value = "postgres://batch"
}
`
	inj, err := inject.New(hclconfig.NewModule(types).WithScope("batch", batch).WithSource("batch.hcl", []byte(src)))
	s.Require().NoError(err)

	_, err = inject.Get[*Repo](s.ctx, inj)
	var oos *inject.OutOfScopeError
	s.True(errors.As(err, &oos))

	ctx := batch.Enter(s.ctx)
	r1 := inject.MustGet[*Repo](ctx, inj)
	r2 := inject.MustGet[*Repo](ctx, inj)
	s.Same(r1, r2)
}

func (s *HCLTestSuite) TestNamedBindings() {
	src := `
bind "Database" {
  named = "primary"
  to    = "MockDB"
}
`
	inj, err := inject.New(hclconfig.NewModule(types).WithSource("named.hcl", []byte(src)))
	s.Require().NoError(err)

	db, err := inject.Get[mock.Database](s.ctx, inj, inject.Named("primary"))
	s.NoError(err)
	s.NotNil(db)
}

func (s *HCLTestSuite) TestErrors() {
	cases := map[string]struct {
		src  string
		want string
	}{
		"UnknownType": {
			src:  "bind \"Nope\" {\n}\n",
			want: `unknown type "Nope"`,
		},
		"UnknownTarget": {
			src:  "bind \"Database\" {\n  to = \"Postgres\"\n}\n",
			want: `unknown type "Postgres"`,
		},
		"UnknownScope": {
			src:  "bind \"Repo\" {\n  scope = \"session\"\n}\n",
			want: `unknown scope "session"`,
		},
		"UnknownAttribute": {
			src:  "bind \"Repo\" {\n  colour = \"red\"\n}\n",
			want: `unknown attribute "colour"`,
		},
		"UnsupportedConstantType": {
			src:  "constant \"c\" {\n  type  = \"complex128\"\n  value = 1\n}\n",
			want: `unsupported type "complex128"`,
		},
		"ConstantTypeMismatch": {
			src:  "constant \"port\" {\n  type  = \"int\"\n  value = \"eighty\"\n}\n",
			want: `constant "port"`,
		},
		"BadDuration": {
			src:  "constant \"timeout\" {\n  type  = \"duration\"\n  value = \"soon\"\n}\n",
			want: `constant "timeout"`,
		},
		"SyntaxError": {
			src:  "constant \"dsn\" {\n  value = \n",
			want: "bad.hcl:",
		},
	}
	for name, tc := range cases {
		s.Run(name, func() {
			_, err := inject.New(hclconfig.NewModule(types).WithSource("bad.hcl", []byte(tc.src)))
			var ce *inject.CreationError
			s.Require().True(errors.As(err, &ce))
			s.Contains(err.Error(), tc.want)
			s.Contains(err.Error(), "bad.hcl")
		})
	}
}

func TestHCLSuite(t *testing.T) {
	suite.Run(t, new(HCLTestSuite))
}

func TestMissingFile(t *testing.T) {
	_, err := inject.New(hclconfig.NewModule(types, filepath.Join(t.TempDir(), "absent.hcl")))
	var ce *inject.CreationError
	require.True(t, errors.As(err, &ce))
	assert.NotEmpty(t, ce.Messages)
}
