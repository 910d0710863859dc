package multibind_test

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/centraunit/inject"
	"github.com/centraunit/inject/multibind"
)

type Plugin interface {
	Name() string
}

type namedPlugin struct {
	name string
}

func (p *namedPlugin) Name() string { return p.name }

type Endpoint struct {
	Path  string
	Ports []int
}

type SetTestSuite struct {
	suite.Suite
	ctx context.Context
}

func (s *SetTestSuite) SetupTest() {
	s.ctx = context.Background()
}

func (s *SetTestSuite) TestElementsFromSeveralModules() {
	inj, err := inject.New(
		inject.ModuleFunc(func(b *inject.Binder) {
			set := multibind.NewSetBinder[string](b)
			set.AddBinding().ToInstance("auth")
			set.AddBinding().ToInstance("metrics")
		}),
		inject.ModuleFunc(func(b *inject.Binder) {
			multibind.NewSetBinder[string](b).AddBinding().ToProviderFunc(func(context.Context) (any, error) {
				return "tracing", nil
			})
		}),
	)
	s.Require().NoError(err)

	got, err := inject.Get[[]string](s.ctx, inj)
	s.Require().NoError(err)
	if diff := cmp.Diff([]string{"auth", "metrics", "tracing"}, got); diff != "" {
		s.Failf("set mismatch", "(-want +got):\n%s", diff)
	}
}

func (s *SetTestSuite) TestEmptySet() {
	inj, err := inject.New(inject.ModuleFunc(func(b *inject.Binder) {
		multibind.NewSetBinder[string](b)
	}))
	s.Require().NoError(err)

	got, err := inject.Get[[]string](s.ctx, inj)
	s.NoError(err)
	s.NotNil(got)
	s.Empty(got)
}

func (s *SetTestSuite) TestDuplicateInstancesFailCreation() {
	_, err := inject.New(
		inject.ModuleFunc(func(b *inject.Binder) {
			multibind.NewSetBinder[string](b).AddBinding().ToInstance("auth")
		}),
		inject.ModuleFunc(func(b *inject.Binder) {
			multibind.NewSetBinder[string](b).AddBinding().ToInstance("auth")
		}),
	)
	var ce *inject.CreationError
	s.Require().True(errors.As(err, &ce))
	var dup *multibind.DuplicateElementError
	s.Require().True(errors.As(err, &dup))
	s.Equal("auth", dup.Value)
	s.Equal(inject.KeyOf[[]string](), dup.Set)
}

func (s *SetTestSuite) TestDuplicatesFromProvidersFailResolution() {
	inj, err := inject.New(inject.ModuleFunc(func(b *inject.Binder) {
		set := multibind.NewSetBinder[string](b)
		set.AddBinding().ToInstance("auth")
		set.AddBinding().ToProviderFunc(func(context.Context) (any, error) { return "auth", nil })
	}))
	s.Require().NoError(err)

	_, err = inject.Get[[]string](s.ctx, inj)
	var dup *multibind.DuplicateElementError
	s.True(errors.As(err, &dup))
}

func (s *SetTestSuite) TestPermitDuplicates() {
	inj, err := inject.New(
		inject.ModuleFunc(func(b *inject.Binder) {
			set := multibind.NewSetBinder[string](b)
			set.AddBinding().ToInstance("auth")
			set.AddBinding().ToInstance("metrics")
		}),
		inject.ModuleFunc(func(b *inject.Binder) {
			set := multibind.NewSetBinder[string](b).PermitDuplicates()
			set.AddBinding().ToInstance("auth")
		}),
		inject.ModuleFunc(func(b *inject.Binder) {
			multibind.NewSetBinder[string](b).PermitDuplicates()
		}),
	)
	s.Require().NoError(err)

	got, err := inject.Get[[]string](s.ctx, inj)
	s.Require().NoError(err)
	s.Equal([]string{"auth", "metrics"}, got)

	contributions, err := inject.Get[multibind.Contributions[string]](s.ctx, inj)
	s.Require().NoError(err)
	s.Len(contributions, 3)
	auth := 0
	for _, c := range contributions {
		s.False(c.Source.IsUnknown())
		if c.Value == "auth" {
			auth++
		}
	}
	s.Equal(2, auth)
}

func (s *SetTestSuite) TestStructuralEquality() {
	_, err := inject.New(inject.ModuleFunc(func(b *inject.Binder) {
		set := multibind.NewSetBinder[Endpoint](b)
		set.AddBinding().ToInstance(Endpoint{Path: "/health", Ports: []int{80}})
		set.AddBinding().ToInstance(Endpoint{Path: "/health", Ports: []int{80}})
	}))
	var dup *multibind.DuplicateElementError
	s.True(errors.As(err, &dup), "non-comparable elements are compared structurally")
}

func (s *SetTestSuite) TestProvidersAreLazy() {
	calls := 0
	inj, err := inject.New(inject.ModuleFunc(func(b *inject.Binder) {
		set := multibind.NewSetBinder[Plugin](b)
		set.AddBinding().ToProviderFunc(func(context.Context) (any, error) {
			calls++
			return &namedPlugin{name: "first"}, nil
		})
		set.AddBinding().ToInstance(&namedPlugin{name: "second"})
	}))
	s.Require().NoError(err)

	providers, err := inject.Get[[]inject.ProviderOf[Plugin]](s.ctx, inj)
	s.Require().NoError(err)
	s.Len(providers, 2)
	s.Equal(0, calls)

	p, err := providers[0].Get(s.ctx)
	s.Require().NoError(err)
	s.Equal("first", p.Name())
	s.Equal(1, calls)
}

func (s *SetTestSuite) TestQualifiedSets() {
	inj, err := inject.New(inject.ModuleFunc(func(b *inject.Binder) {
		multibind.NewSetBinder[string](b, multibind.Qualified(inject.Named("public"))).AddBinding().ToInstance("/health")
		multibind.NewSetBinder[string](b, multibind.Qualified(inject.Named("admin"))).AddBinding().ToInstance("/debug")
	}))
	s.Require().NoError(err)

	public, err := inject.Get[[]string](s.ctx, inj, inject.Named("public"))
	s.Require().NoError(err)
	admin, err := inject.Get[[]string](s.ctx, inj, inject.Named("admin"))
	s.Require().NoError(err)
	s.Equal([]string{"/health"}, public)
	s.Equal([]string{"/debug"}, admin)

	_, err = inject.Get[[]string](s.ctx, inj)
	s.Error(err, "the unqualified set was never declared")
}

func (s *SetTestSuite) TestNilElement() {
	inj, err := inject.New(inject.ModuleFunc(func(b *inject.Binder) {
		multibind.NewSetBinder[Plugin](b).AddBinding().ToProviderFunc(func(context.Context) (any, error) {
			return nil, nil
		})
	}))
	s.Require().NoError(err)

	_, err = inject.Get[[]Plugin](s.ctx, inj)
	var null *inject.NullValueError
	s.True(errors.As(err, &null))
}

func (s *SetTestSuite) TestElementDependencies() {
	_, err := inject.New(inject.ModuleFunc(func(b *inject.Binder) {
		multibind.NewSetBinder[Plugin](b).AddBinding().ToConstructor(func(dep Missing) *namedPlugin {
			return &namedPlugin{}
		})
	}))
	var missing *inject.MissingImplementationError
	s.True(errors.As(err, &missing), "element dependencies are validated when the injector is built")
}

func TestSetSuite(t *testing.T) {
	suite.Run(t, new(SetTestSuite))
}

type Missing interface {
	Missing()
}

type MapTestSuite struct {
	suite.Suite
	ctx context.Context
}

func (s *MapTestSuite) SetupTest() {
	s.ctx = context.Background()
}

func (s *MapTestSuite) TestEntriesFromSeveralModules() {
	inj, err := inject.New(
		inject.ModuleFunc(func(b *inject.Binder) {
			m := multibind.NewMapBinder[string, int](b)
			m.AddBinding("http").ToInstance(80)
			m.AddBinding("https").ToInstance(443)
		}),
		inject.ModuleFunc(func(b *inject.Binder) {
			multibind.NewMapBinder[string, int](b).AddBinding("ssh").ToInstance(22)
		}),
	)
	s.Require().NoError(err)

	got, err := inject.Get[map[string]int](s.ctx, inj)
	s.Require().NoError(err)
	if diff := cmp.Diff(map[string]int{"http": 80, "https": 443, "ssh": 22}, got); diff != "" {
		s.Failf("map mismatch", "(-want +got):\n%s", diff)
	}

	providers, err := inject.Get[map[string]inject.ProviderOf[int]](s.ctx, inj)
	s.Require().NoError(err)
	s.Len(providers, 3)
	port, err := providers["ssh"].Get(s.ctx)
	s.NoError(err)
	s.Equal(22, port)
}

func (s *MapTestSuite) TestDuplicateKeysFailCreation() {
	_, err := inject.New(inject.ModuleFunc(func(b *inject.Binder) {
		m := multibind.NewMapBinder[string, int](b)
		m.AddBinding("http").ToInstance(80)
		m.AddBinding("http").ToInstance(8080)
		m.AddBinding("https").ToInstance(443)
		m.AddBinding("https").ToInstance(8443)
	}))
	var ce *inject.CreationError
	s.Require().True(errors.As(err, &ce))

	var keys []string
	for _, msg := range ce.Messages {
		var dup *multibind.DuplicateKeyError
		if errors.As(msg.Cause, &dup) {
			keys = append(keys, dup.MapKey.(string))
		}
	}
	sort.Strings(keys)
	s.Equal([]string{"http", "https"}, keys, "every repeated key is reported")
}

func (s *MapTestSuite) TestPermitDuplicates() {
	inj, err := inject.New(inject.ModuleFunc(func(b *inject.Binder) {
		m := multibind.NewMapBinder[string, int](b).PermitDuplicates()
		m.AddBinding("http").ToInstance(80)
		m.AddBinding("https").ToInstance(443)
		m.AddBinding("http").ToInstance(8080)
	}))
	s.Require().NoError(err)

	got, err := inject.Get[map[string]int](s.ctx, inj)
	s.Require().NoError(err)
	s.Equal(map[string]int{"http": 80, "https": 443}, got, "the first value per key wins")

	multi, err := inject.Get[map[string][]int](s.ctx, inj)
	s.Require().NoError(err)
	if diff := cmp.Diff(map[string][]int{"http": {80, 8080}, "https": {443}}, multi); diff != "" {
		s.Failf("multimap mismatch", "(-want +got):\n%s", diff)
	}
}

func (s *MapTestSuite) TestIdempotentDeclaration() {
	inj, err := inject.New(
		inject.ModuleFunc(func(b *inject.Binder) { multibind.NewMapBinder[string, int](b) }),
		inject.ModuleFunc(func(b *inject.Binder) { multibind.NewMapBinder[string, int](b) }),
	)
	s.Require().NoError(err)
	s.Len(inj.Bindings(), 3)

	got, err := inject.Get[map[string]int](s.ctx, inj)
	s.NoError(err)
	s.Empty(got)
}

func (s *MapTestSuite) TestNilInterfaceKey() {
	inj, err := inject.New(inject.ModuleFunc(func(b *inject.Binder) {
		m := multibind.NewMapBinder[any, string](b)
		m.AddBinding(nil).ToInstance("fallback")
		m.AddBinding("api").ToInstance("v1")
	}))
	s.Require().NoError(err)

	got, err := inject.Get[map[any]string](s.ctx, inj)
	s.Require().NoError(err)
	s.Equal(map[any]string{nil: "fallback", "api": "v1"}, got)

	providers, err := inject.Get[map[any]inject.ProviderOf[string]](s.ctx, inj)
	s.Require().NoError(err)
	v, err := providers[nil].Get(s.ctx)
	s.NoError(err)
	s.Equal("fallback", v)

	multi, err := inject.Get[map[any][]string](s.ctx, inj)
	s.Require().NoError(err)
	s.Equal([]string{"fallback"}, multi[nil])
}

func TestMapSuite(t *testing.T) {
	suite.Run(t, new(MapTestSuite))
}

type OptionalTestSuite struct {
	suite.Suite
	ctx context.Context
}

func (s *OptionalTestSuite) SetupTest() {
	s.ctx = context.Background()
}

func (s *OptionalTestSuite) TestAbsent() {
	inj, err := inject.New(inject.ModuleFunc(func(b *inject.Binder) {
		multibind.NewOptionalBinder[string](b)
	}))
	s.Require().NoError(err)

	opt, err := inject.Get[multibind.Optional[string]](s.ctx, inj)
	s.Require().NoError(err)
	s.False(opt.IsPresent())
	s.Equal("fallback", opt.OrElse("fallback"))

	_, err = inject.Get[string](s.ctx, inj)
	s.Error(err, "T is not bound without a default or actual binding")
}

func (s *OptionalTestSuite) TestDefaultOnly() {
	inj, err := inject.New(inject.ModuleFunc(func(b *inject.Binder) {
		multibind.NewOptionalBinder[string](b).SetDefault().ToInstance("default")
	}))
	s.Require().NoError(err)

	opt, err := inject.Get[multibind.Optional[string]](s.ctx, inj)
	s.Require().NoError(err)
	v, ok := opt.Get()
	s.True(ok)
	s.Equal("default", v)

	direct, err := inject.Get[string](s.ctx, inj)
	s.NoError(err)
	s.Equal("default", direct)
}

func (s *OptionalTestSuite) TestActualOverridesDefault() {
	inj, err := inject.New(
		inject.ModuleFunc(func(b *inject.Binder) {
			multibind.NewOptionalBinder[string](b).SetDefault().ToInstance("default")
		}),
		inject.ModuleFunc(func(b *inject.Binder) {
			multibind.NewOptionalBinder[string](b).SetBinding().ToInstance("actual")
		}),
	)
	s.Require().NoError(err)

	opt, err := inject.Get[multibind.Optional[string]](s.ctx, inj)
	s.Require().NoError(err)
	s.Equal(multibind.Some("actual"), opt)

	direct, err := inject.Get[string](s.ctx, inj)
	s.NoError(err)
	s.Equal("actual", direct)
}

func (s *OptionalTestSuite) TestStandaloneBinding() {
	inj, err := inject.New(
		inject.ModuleFunc(func(b *inject.Binder) {
			multibind.NewOptionalBinder[Plugin](b)
		}),
		inject.ModuleFunc(func(b *inject.Binder) {
			inject.Bind[Plugin](b).ToInstance(&namedPlugin{name: "standalone"})
		}),
	)
	s.Require().NoError(err)

	opt, err := inject.Get[multibind.Optional[Plugin]](s.ctx, inj)
	s.Require().NoError(err)
	p, ok := opt.Get()
	s.Require().True(ok)
	s.Equal("standalone", p.Name())
}

func (s *OptionalTestSuite) TestNilActualIsAbsent() {
	inj, err := inject.New(inject.ModuleFunc(func(b *inject.Binder) {
		ob := multibind.NewOptionalBinder[Plugin](b)
		ob.SetDefault().ToInstance(&namedPlugin{name: "default"})
		ob.SetBinding().ToProviderFunc(func(context.Context) (any, error) { return nil, nil })
	}))
	s.Require().NoError(err)

	opt, err := inject.Get[multibind.Optional[Plugin]](s.ctx, inj)
	s.Require().NoError(err)
	s.False(opt.IsPresent())
}

func (s *OptionalTestSuite) TestQualified() {
	inj, err := inject.New(inject.ModuleFunc(func(b *inject.Binder) {
		multibind.NewOptionalBinder[int](b, multibind.Qualified(inject.Named("port"))).SetDefault().ToInstance(8080)
	}))
	s.Require().NoError(err)

	opt, err := inject.Get[multibind.Optional[int]](s.ctx, inj, inject.Named("port"))
	s.Require().NoError(err)
	s.Equal(8080, opt.OrElse(0))

	port, err := inject.Get[int](s.ctx, inj, inject.Named("port"))
	s.NoError(err)
	s.Equal(8080, port)
}

func TestOptionalSuite(t *testing.T) {
	suite.Run(t, new(OptionalTestSuite))
}

func TestOptionalValue(t *testing.T) {
	var none multibind.Optional[int]
	_, ok := none.Get()
	assert.False(t, ok)
	assert.Equal(t, 3, none.OrElse(3))

	some := multibind.Some(0)
	v, ok := some.Get()
	require.True(t, ok)
	assert.Equal(t, 0, v)
	assert.Equal(t, 0, some.OrElse(3))
}
