package root

import (
	"github.com/zenGate-Global/palmyra-tenancy/apps/cli/cmd/account"
	"github.com/zenGate-Global/palmyra-tenancy/apps/cli/cmd/auth"
	"github.com/zenGate-Global/palmyra-tenancy/apps/cli/cmd/bootstrap"
	"github.com/zenGate-Global/palmyra-tenancy/apps/cli/cmd/cascade"
)

func init() {
	Root().AddCommand(auth.Command())
	Root().AddCommand(bootstrap.Command())
	Root().AddCommand(account.Command())
	Root().AddCommand(cascade.Command())
}
