package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/san-kum/fluidsim/internal/tui"
	"github.com/san-kum/fluidsim/internal/varclient"
	"github.com/san-kum/fluidsim/internal/varserver"
)

func serverAddr() string {
	return net.JoinHostPort(host, strconv.Itoa(serverPort))
}

func connect(ctx context.Context) (*varclient.Client, error) {
	c, err := varclient.Dial(ctx, serverAddr())
	if err != nil {
		return nil, err
	}
	if binaryMode {
		if err := c.SetBinary(true); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

func getVars(cmd *cobra.Command, args []string) error {
	c, err := connect(cmd.Context())
	if err != nil {
		return err
	}
	defer c.Exit()

	vals, err := c.GetAll(args...)
	if err != nil {
		return err
	}
	printValues(vals)
	return nil
}

func setVar(cmd *cobra.Command, args []string) error {
	v, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid value %q: %w", args[1], err)
	}
	c, err := connect(cmd.Context())
	if err != nil {
		return err
	}
	defer c.Exit()
	return c.Set(args[0], v)
}

func streamVars(cmd *cobra.Command, args []string) error {
	c, err := connect(cmd.Context())
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Cycle(time.Duration(cycle * float64(time.Second))); err != nil {
		return err
	}
	if err := c.Add(args...); err != nil {
		return err
	}
	c.Timeout = 0

	for n := 0; streamCount == 0 || n < streamCount; {
		m, err := c.Next()
		if err != nil {
			return err
		}
		if m.Values == nil {
			if reason, ok := m.Terminated(); ok {
				fmt.Printf("terminated: %s\n", reason)
				return nil
			}
			continue
		}
		fmt.Println(varserver.FormatValues(m.Values))
		n++
	}
	return c.Exit()
}

func watchVars(cmd *cobra.Command, args []string) error {
	c, err := connect(cmd.Context())
	if err != nil {
		return err
	}
	defer c.Close()

	names := args
	if len(names) == 0 {
		names = []string{
			"exec.sim_time",
			"dyn.fluid.metrics.kinetic_energy",
			"dyn.fluid.metrics.max_speed",
			"dyn.fluid.metrics.mean_density",
		}
	}
	if err := c.Cycle(time.Duration(cycle * float64(time.Second))); err != nil {
		return err
	}
	return tui.RunWatch(c, serverAddr(), names)
}

func listVars(cmd *cobra.Command, args []string) error {
	c, err := connect(cmd.Context())
	if err != nil {
		return err
	}
	defer c.Exit()

	names, err := c.List()
	if err != nil {
		return err
	}
	fmt.Println(strings.Join(names, "\n"))
	return nil
}

func terminateRun(cmd *cobra.Command, args []string) error {
	c, err := connect(cmd.Context())
	if err != nil {
		return err
	}
	defer c.Close()
	if err := c.Terminate(); err != nil && !errors.Is(err, varclient.ErrTerminated) {
		return err
	}
	fmt.Println("terminate requested")
	return nil
}

func printValues(vals []varserver.Value) {
	width := 0
	for _, v := range vals {
		width = max(width, len(v.Name))
	}
	for _, v := range vals {
		fmt.Printf("%-*s  %s\n", width, v.Name, strconv.FormatFloat(v.Value, 'g', -1, 64))
	}
}
