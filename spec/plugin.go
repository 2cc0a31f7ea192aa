package spec

// PluginKind distinguishes built-in operators from subprocess-backed ones
// loaded from GRPCTESTIFY_PLUGIN_PATH.
type PluginKind string

const (
	Internal PluginKind = "internal"
	External PluginKind = "external"
)

// Plugin describes one registered assertion operator. The Handler field is
// intentionally typed as `any` here: the concrete call signature lives in
// the plugin package, which depends on spec but must not be depended on by
// it.
type Plugin struct {
	Name        string
	Handler     any
	Description string
	Kind        PluginKind
}
