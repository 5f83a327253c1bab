// Command client is a minimal terminal client for the GoMingle control plane.
// It logs in, then reads commands from stdin: /find, /skip, /quit, anything
// else is sent to the current partner.
package main

import (
	"bufio"
	"crypto/tls"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/NicolasHaas/gomingle/pkg/protocol"
	pb "github.com/NicolasHaas/gomingle/pkg/protocol/pb"
)

func main() {
	addr := flag.String("addr", "localhost:9600", "Server control plane address")
	name := flag.String("name", "", "Display name")
	country := flag.String("country", "", "Country code")
	gender := flag.String("gender", "", "Gender")
	interests := flag.String("interests", "", "Comma-separated interests")
	token := flag.String("token", "", "Account token from the HTTP API (empty = anonymous)")
	premium := flag.Bool("premium", false, "Claim premium (anonymous logins only)")
	tier := flag.String("tier", "", "Subscription tier: starter, global, or elite")
	targetCountry := flag.String("target-country", "", "Preferred partner country (premium)")
	targetGender := flag.String("target-gender", "", "Preferred partner gender (elite)")
	insecure := flag.Bool("insecure", true, "Skip TLS certificate verification (self-signed servers)")
	flag.Parse()

	conn, err := tls.Dial("tcp", *addr, &tls.Config{
		InsecureSkipVerify: *insecure, //nolint:gosec // explicit opt-in for self-signed dev servers
		MinVersion:         tls.VersionTLS13,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = conn.Close() }()

	var interestList []string
	if *interests != "" {
		interestList = strings.Split(*interests, ",")
	}

	login := &pb.ControlMessage{LoginRequest: &pb.LoginRequest{
		Token:            *token,
		DisplayName:      *name,
		Country:          *country,
		Gender:           *gender,
		Interests:        interestList,
		IsPremium:        *premium,
		SubscriptionTier: *tier,
		TargetCountry:    *targetCountry,
		TargetGender:     *targetGender,
	}}
	if err := protocol.WriteControlMessage(conn, login); err != nil {
		fmt.Fprintf(os.Stderr, "login: %v\n", err)
		os.Exit(1)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			msg, err := protocol.ReadControlMessage(conn)
			if err != nil {
				fmt.Println("* connection closed")
				return
			}
			printEvent(msg)
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		var out *pb.ControlMessage
		switch line {
		case "":
			continue
		case "/quit":
			return
		case "/find":
			out = &pb.ControlMessage{FindMatchReq: &pb.FindMatchRequest{}}
		case "/skip":
			out = &pb.ControlMessage{SkipReq: &pb.SkipRequest{}}
		default:
			out = &pb.ControlMessage{ChatMsg: &pb.ChatMessage{Text: line}}
		}
		if err := protocol.WriteControlMessage(conn, out); err != nil {
			fmt.Fprintf(os.Stderr, "send: %v\n", err)
			return
		}
	}
	<-done
}

func printEvent(msg *pb.ControlMessage) {
	switch {
	case msg.LoginSuccess != nil:
		s := msg.LoginSuccess.Session
		fmt.Printf("* logged in as %s (%s, tier %s)\n", s.DisplayName, s.Country, s.SubscriptionTier)
		fmt.Println("* type /find to search for a partner")
	case msg.MatchFound != nil:
		fmt.Printf("* matched (room %s)\n", msg.MatchFound.RoomID)
	case msg.PartnerInfo != nil:
		p := msg.PartnerInfo
		fmt.Printf("* partner: %s from %s, interests: %s\n",
			p.DisplayName, p.Country, strings.Join(p.Interests, ", "))
	case msg.ChatEvent != nil:
		fmt.Printf("> %s\n", msg.ChatEvent.Text)
	case msg.PartnerLeft != nil:
		fmt.Println("* partner left; /find to search again")
	case msg.ErrorResponse != nil:
		fmt.Printf("* error %d: %s\n", msg.ErrorResponse.Code, msg.ErrorResponse.Message)
	}
}
