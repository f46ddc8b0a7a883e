// Copyright (c) Microsoft Corporation.
// Licensed under the MIT license.
package main

import (
	"flag"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	cliflag "k8s.io/component-base/cli/flag"
	"k8s.io/klog/v2"
	ctrl "sigs.k8s.io/controller-runtime"
	// Import all Kubernetes client auth plugins (e.g. Azure, GCP, OIDC, etc.)
	// so the kubernetes runner can reach managed clusters.
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	"github.com/sqltune/sqltune/pkg/featuregates"
)

var (
	exitWithErrorFunc = func() {
		klog.Flush()
		os.Exit(1)
	}
)

func init() {
	klog.InitFlags(nil)
}

func newRootCommand() *cobra.Command {
	var featureGates string
	cmd := &cobra.Command{
		Use:           "sqltune",
		Short:         "Fine-tune a base model for text-to-SQL and export it for Ollama",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := featuregates.ParseAndValidateFeatureGates(featureGates); err != nil {
				return err
			}
			klog.V(2).InfoS("Feature gates", "gates", featuregates.String())
			return nil
		},
	}
	addGoFlags(cmd.PersistentFlags())
	cmd.PersistentFlags().StringVar(&featureGates, "feature-gates", "",
		"Comma separated gates, e.g. OllamaRegistration=true,ParallelDatasetFetch=false. Default: "+featuregates.String())

	cmd.AddCommand(newRunCommand(), newModelfileCommand(), newDatasetCommand())
	return cmd
}

// addGoFlags exposes the klog flags and controller-runtime's --kubeconfig on fs.
func addGoFlags(fs *pflag.FlagSet) {
	fs.SetNormalizeFunc(cliflag.WordSepNormalizeFunc)
	fs.AddGoFlagSet(flag.CommandLine)
}

func main() {
	defer klog.Flush()
	if err := newRootCommand().ExecuteContext(ctrl.SetupSignalHandler()); err != nil {
		klog.ErrorS(err, "sqltune failed")
		exitWithErrorFunc()
	}
}
