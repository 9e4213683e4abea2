package config

// File paths for the PKI and ACL fixtures used by the test suite. Tests
// run with CONFIG_DIR pointed at the repository's test/ directory (see
// the Makefile's test target); production agents resolve the same
// filenames under the operator-supplied --acl-model-file etc. flags
// instead of these defaults.
var (
	CAFile               = configFile("ca.pem")
	ServerCertFile       = configFile("server.pem")
	ServerKeyFile        = configFile("server-key.pem")
	RootClientCertFile   = configFile("root-client.pem")
	RootClientKeyFile    = configFile("root-client-key.pem")
	NobodyClientCertFile = configFile("nobody-client.pem")
	NobodyClientKeyFile  = configFile("nobody-client-key.pem")
	ACLModelFile         = configFile("acl-model.conf")
	ACLPolicyFile        = configFile("acl-policy.csv")
)
