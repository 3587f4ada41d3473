// Copyright 2023 LiveKit, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"net"
	"strconv"
)

// ListenAddresses returns host:port pairs for the admin API.
func (conf *Config) ListenAddresses() []string {
	return listenAddresses(conf.BindAddresses, conf.Port)
}

// PrometheusAddresses returns host:port pairs for the metrics endpoint, nil when disabled.
func (conf *Config) PrometheusAddresses() []string {
	if conf.PrometheusPort == 0 {
		return nil
	}
	return listenAddresses(conf.BindAddresses, conf.PrometheusPort)
}

func listenAddresses(bindAddresses []string, port uint32) []string {
	if len(bindAddresses) == 0 {
		return []string{net.JoinHostPort("", strconv.Itoa(int(port)))}
	}

	addresses := make([]string, 0, len(bindAddresses))
	for _, addr := range bindAddresses {
		addresses = append(addresses, net.JoinHostPort(addr, strconv.Itoa(int(port))))
	}
	return addresses
}

// GetLocalIPAddresses lists IPv4 addresses of local interfaces, used to report where the API is reachable.
func GetLocalIPAddresses(includeLoopback bool) ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	loopBacks := make([]string, 0)
	addresses := make([]string, 0)
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch typedAddr := addr.(type) {
			case *net.IPNet:
				ip = typedAddr.IP.To4()
			case *net.IPAddr:
				ip = typedAddr.IP.To4()
			default:
				continue
			}
			if ip == nil {
				continue
			}
			if ip.IsLoopback() {
				loopBacks = append(loopBacks, ip.String())
			} else {
				addresses = append(addresses, ip.String())
			}
		}
	}

	if includeLoopback {
		addresses = append(addresses, loopBacks...)
	}

	if len(addresses) > 0 {
		return addresses, nil
	}
	if len(loopBacks) > 0 {
		return loopBacks, nil
	}
	return nil, fmt.Errorf("could not find local IP address")
}
